package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/akhdaniel/vendorchain/pkg/canonhash"
	"github.com/akhdaniel/vendorchain/pkg/domain"
	"github.com/akhdaniel/vendorchain/sdk/go/vendorchain"
)

const usage = "usage: vcctl digest --type contract|vendor --file <entity.json> | vcctl verify offline --type contract|vendor --entity <entity.json> --document <doc.json> | vcctl verify remote --base-url <url> --username <u> --password <p> --contract <id>"

func main() {
	if len(os.Args) < 2 {
		failSummary("", "", usage)
		os.Exit(2)
	}
	switch os.Args[1] {
	case "digest":
		runDigest(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	default:
		failSummary("", "", usage)
		os.Exit(2)
	}
}

func runDigest(args []string) {
	fs := flag.NewFlagSet("digest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	entityType := fs.String("type", "contract", "entity type: contract or vendor")
	path := fs.String("file", "", "path to entity json")
	if err := fs.Parse(args); err != nil {
		failSummary(*entityType, "", err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*path) == "" {
		failSummary(*entityType, "", "--file is required")
		os.Exit(2)
	}
	id, fields, err := loadEntity(*entityType, *path)
	if err != nil {
		failSummary(*entityType, id, err.Error())
		os.Exit(1)
	}
	digest, err := canonhash.Digest(fields)
	if err != nil {
		failSummary(*entityType, id, err.Error())
		os.Exit(1)
	}
	fmt.Printf("{\"status\":\"PASS\",\"entity_type\":%s,\"entity_id\":%s,\"digest\":%s,\"timestamp_utc\":\"%s\"}\n",
		jsonQuote(*entityType), jsonQuote(id), jsonQuote(digest), time.Now().UTC().Format(time.RFC3339))
}

func runVerify(args []string) {
	if len(args) < 1 {
		failSummary("", "", usage)
		os.Exit(2)
	}
	switch args[0] {
	case "offline":
		runVerifyOffline(args[1:])
	case "remote":
		runVerifyRemote(args[1:])
	default:
		failSummary("", "", usage)
		os.Exit(2)
	}
}

// runVerifyOffline compares a local entity snapshot against a ledger
// document export without talking to any service.
func runVerifyOffline(args []string) {
	fs := flag.NewFlagSet("verify offline", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	entityType := fs.String("type", "contract", "entity type: contract or vendor")
	entityPath := fs.String("entity", "", "path to local entity json")
	docPath := fs.String("document", "", "path to ledger document json")
	if err := fs.Parse(args); err != nil {
		failSummary(*entityType, "", err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*entityPath) == "" || strings.TrimSpace(*docPath) == "" {
		failSummary(*entityType, "", "both --entity and --document are required")
		os.Exit(2)
	}

	id, local, err := loadEntity(*entityType, *entityPath)
	if err != nil {
		failSummary(*entityType, id, err.Error())
		os.Exit(1)
	}
	docBytes, err := os.ReadFile(*docPath)
	if err != nil {
		failSummary(*entityType, id, "read document failed: "+err.Error())
		os.Exit(1)
	}
	var doc struct {
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(docBytes, &doc); err != nil {
		failSummary(*entityType, id, "malformed document: "+err.Error())
		os.Exit(1)
	}

	keys := canonhash.ContractCompareKeys
	if *entityType == "vendor" {
		keys = canonhash.VendorCompareKeys
	}
	var mismatched []string
	for _, key := range keys {
		if !sameValue(local[key], doc.Fields[key]) {
			mismatched = append(mismatched, key)
		}
	}
	if len(mismatched) > 0 {
		failSummary(*entityType, id, "field mismatch: "+strings.Join(mismatched, ","))
		os.Exit(1)
	}
	passSummary(*entityType, id)
}

func runVerifyRemote(args []string) {
	fs := flag.NewFlagSet("verify remote", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	baseURL := fs.String("base-url", "http://localhost:8080", "gateway base url")
	username := fs.String("username", "", "api username")
	password := fs.String("password", "", "api password")
	contractID := fs.String("contract", "", "contract id to verify")
	vendorID := fs.String("vendor", "", "vendor id to verify")
	if err := fs.Parse(args); err != nil {
		failSummary("", "", err.Error())
		os.Exit(2)
	}
	if *contractID == "" && *vendorID == "" {
		failSummary("", "", "one of --contract or --vendor is required")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := vendorchain.NewClient(*baseURL)
	if err := client.Login(ctx, *username, *password); err != nil {
		failSummary("", "", "login failed: "+err.Error())
		os.Exit(1)
	}

	entityType, id := "contract", *contractID
	var (
		res *vendorchain.Verification
		err error
	)
	if *vendorID != "" {
		entityType, id = "vendor", *vendorID
		res, err = client.VerifyVendorIntegrity(ctx, id)
	} else {
		res, err = client.VerifyContractIntegrity(ctx, id)
	}
	if err != nil {
		failSummary(entityType, id, err.Error())
		os.Exit(1)
	}
	if res.Status != "verified" {
		var mismatched []string
		for _, f := range res.Fields {
			if !f.Match {
				mismatched = append(mismatched, f.Field)
			}
		}
		reason := "verification status: " + res.Status
		if len(mismatched) > 0 {
			reason += " (fields: " + strings.Join(mismatched, ",") + ")"
		}
		failSummary(entityType, id, reason)
		os.Exit(1)
	}
	passSummary(entityType, id)
}

func loadEntity(entityType, path string) (string, map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read entity failed: %w", err)
	}
	switch entityType {
	case "contract":
		var c domain.Contract
		if err := json.Unmarshal(data, &c); err != nil {
			return "", nil, fmt.Errorf("malformed contract: %w", err)
		}
		return c.ContractID, canonhash.ContractFields(&c), nil
	case "vendor":
		var v domain.Vendor
		if err := json.Unmarshal(data, &v); err != nil {
			return "", nil, fmt.Errorf("malformed vendor: %w", err)
		}
		return v.VendorID, canonhash.VendorFields(&v), nil
	}
	return "", nil, fmt.Errorf("unknown entity type %q", entityType)
}

func sameValue(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func passSummary(entityType, entityID string) {
	fmt.Printf("{\"status\":\"PASS\",\"entity_type\":%s,\"entity_id\":%s,\"timestamp_utc\":\"%s\"}\n",
		jsonQuote(entityType), jsonQuote(entityID), time.Now().UTC().Format(time.RFC3339))
}

func failSummary(entityType, entityID, reason string) {
	fmt.Printf("{\"status\":\"FAIL\",\"entity_type\":%s,\"entity_id\":%s,\"reason\":%s,\"timestamp_utc\":\"%s\"}\n",
		jsonQuote(entityType), jsonQuote(entityID), jsonQuote(reason), time.Now().UTC().Format(time.RFC3339))
}

func jsonQuote(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}
