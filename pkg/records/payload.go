package records

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

// payloadSchemas are the JSON Schemas each record kind's payload must satisfy.
// They pin the fields other components filter and decode on; extra fields are allowed.
var payloadSchemas = map[Kind]string{
	KindAgent: `{
		"type": "object",
		"required": ["id", "name", "capabilities", "status"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"name": {"type": "string", "minLength": 1},
			"capabilities": {"type": "array", "items": {"type": "string"}},
			"status": {"enum": ["online", "offline", "busy"]}
		}
	}`,
	KindSession: `{
		"type": "object",
		"required": ["id", "name", "participants", "mode", "status"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"name": {"type": "string", "minLength": 1},
			"participants": {"type": "array", "items": {"type": "string"}},
			"mode": {"enum": ["collaborative", "competitive", "hierarchical"]},
			"status": {"enum": ["active", "concluded"]}
		}
	}`,
	KindMessage: `{
		"type": "object",
		"required": ["id", "sessionId", "fromAgent", "content", "messageType", "timestamp"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"sessionId": {"type": "string", "minLength": 1},
			"fromAgent": {"type": "string", "minLength": 1},
			"content": {"type": "string"},
			"messageType": {"enum": ["update", "question", "decision", "action", "insight"]},
			"timestamp": {"type": "string"}
		}
	}`,
	KindRouting: `{
		"type": "object",
		"required": ["messageId", "sessionId", "priority"],
		"properties": {
			"messageId": {"type": "string", "minLength": 1},
			"sessionId": {"type": "string", "minLength": 1},
			"priority": {
				"type": "object",
				"required": ["level"],
				"properties": {"level": {"enum": ["low", "normal", "high", "urgent", "critical"]}}
			}
		}
	}`,
	KindMarker: `{
		"type": "object",
		"required": ["sessionId", "marker"],
		"properties": {
			"sessionId": {"type": "string", "minLength": 1},
			"marker": {"type": "string", "minLength": 1}
		}
	}`,
	KindAnalysis: `{
		"type": "object",
		"required": ["sessionId", "coherenceScore", "issues"],
		"properties": {
			"sessionId": {"type": "string", "minLength": 1},
			"coherenceScore": {"type": "number", "minimum": 0, "maximum": 1},
			"issues": {"type": "array"}
		}
	}`,
	KindConsensus: `{
		"type": "object",
		"required": ["sessionId", "proposal", "result"],
		"properties": {
			"sessionId": {"type": "string", "minLength": 1},
			"proposal": {"type": "string"},
			"result": {
				"type": "object",
				"required": ["agreed", "consensusLevel"],
				"properties": {
					"agreed": {"type": "boolean"},
					"consensusLevel": {"type": "number"}
				}
			}
		}
	}`,
	KindInsight: `{
		"type": "object",
		"required": ["id", "type", "content"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"type": {"enum": ["breakthrough", "novel_connection"]},
			"content": {"type": "string"}
		}
	}`,
}

var compiledSchemas = sync.OnceValues(func() (map[Kind]*jsonschema.Schema, error) {
	out := make(map[Kind]*jsonschema.Schema, len(payloadSchemas))
	for kind, src := range payloadSchemas {
		compiler := jsonschema.NewCompiler()
		schema, err := compiler.Compile([]byte(src))
		if err != nil {
			return nil, fmt.Errorf("invalid %s schema: %w", kind, err)
		}
		out[kind] = schema
	}
	return out, nil
})

// ValidatePayload checks payload against the schema registered for kind.
func ValidatePayload(kind Kind, payload json.RawMessage) error {
	if len(payload) == 0 {
		return fmt.Errorf("%s payload cannot be empty", kind)
	}
	schemas, err := compiledSchemas()
	if err != nil {
		return err
	}
	schema, ok := schemas[kind]
	if !ok {
		return fmt.Errorf("no schema registered for kind %q", kind)
	}

	var data any
	if err := json.Unmarshal(payload, &data); err != nil {
		return fmt.Errorf("%s payload is not valid JSON: %w", kind, err)
	}
	result := schema.Validate(data)
	if !result.IsValid() {
		return fmt.Errorf("%s payload: %s", kind, result.Error())
	}
	return nil
}
