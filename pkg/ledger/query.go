package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/akhdaniel/vendorchain/pkg/domain"
)

// ErrNoDocument means the query ran but no matching document exists in any
// collection. The verifier maps this to pending, not to not_on_chain.
var ErrNoDocument = errors.New("no matching ledger document")

// Document is an entity snapshot read back from the ledger's state store.
type Document struct {
	Collection    string         `json:"-"`
	Type          string         `json:"type"`
	EntityID      string         `json:"entity_id"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Action        string         `json:"action,omitempty"`
	Fields        map[string]any `json:"fields"`
}

// FindDocument searches every collection whose name matches the
// entity-type convention for a document with the given entity id or
// transaction id, first schema-valid match wins. The state store may be
// partitioned across multiple logical collections (one per channel), so a
// miss in one collection is not a miss overall.
func (c *Client) FindDocument(ctx context.Context, entityType EntityType, entityID, txID string) (*Document, error) {
	names, err := c.collections(ctx)
	if err != nil {
		return nil, &domain.LedgerUnavailableError{Op: "query", Err: err}
	}
	for _, name := range names {
		if !matchesCollection(name, entityType) {
			continue
		}
		doc, err := c.findIn(ctx, name, entityID, txID)
		if err != nil {
			return nil, &domain.LedgerUnavailableError{Op: "query", Err: err}
		}
		if doc != nil {
			doc.Collection = name
			return doc, nil
		}
	}
	return nil, ErrNoDocument
}

func (c *Client) collections(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.queryBase+"/_all_dbs", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("state store returned %d listing collections", resp.StatusCode)
	}
	var names []string
	if err := json.NewDecoder(resp.Body).Decode(&names); err != nil {
		return nil, err
	}
	return names, nil
}

// matchesCollection applies the naming convention: a collection serves an
// entity type when its name mentions the type or a ledger channel.
func matchesCollection(name string, entityType EntityType) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, string(entityType)) || strings.Contains(n, "channel")
}

type selectorQuery struct {
	Selector map[string]any `json:"selector"`
	Limit    int            `json:"limit"`
}

func (c *Client) findIn(ctx context.Context, collection, entityID, txID string) (*Document, error) {
	or := []map[string]any{{"entity_id": entityID}}
	if txID != "" {
		or = append(or, map[string]any{"transaction_id": txID})
	}
	body, err := json.Marshal(selectorQuery{Selector: map[string]any{"$or": or}, Limit: 10})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.queryBase+"/"+collection+"/_find", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("state store returned %d querying %s", resp.StatusCode, collection)
	}
	var out struct {
		Docs []json.RawMessage `json:"docs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	for _, raw := range out.Docs {
		doc, ok := decodeDocument(raw)
		if !ok {
			// Malformed documents are skipped, not treated as evidence.
			c.log.Warn("skipping schema-invalid ledger document", "collection", collection)
			continue
		}
		return doc, nil
	}
	return nil, nil
}

func decodeDocument(raw json.RawMessage) (*Document, bool) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, false
	}
	if err := documentSchema.Validate(generic); err != nil {
		return nil, false
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false
	}
	return &doc, true
}
