package ledger

import "github.com/santhosh-tekuri/jsonschema/v5"

// documentSchema gates what the verifier is willing to compare against.
// Anything else in a collection (design docs, foreign writers) is ignored.
const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "entity_id", "fields"],
  "properties": {
    "type": {"enum": ["vendor", "contract", "payment"]},
    "entity_id": {"type": "string", "minLength": 1},
    "transaction_id": {"type": "string"},
    "action": {"type": "string"},
    "fields": {"type": "object"}
  }
}`

var documentSchema = jsonschema.MustCompileString("ledger_document.json", documentSchemaJSON)
