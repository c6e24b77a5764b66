package workflow

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// workflowSchema is the JSON Schema every workflow document must satisfy
// before business-rule validation runs.
const workflowSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "trigger", "actions"],
  "properties": {
    "name": {"type": "string", "minLength": 1, "maxLength": 128},
    "version": {"type": "string", "pattern": "^\\d+\\.\\d+\\.\\d+$"},
    "description": {"type": "string"},
    "enabled": {"type": "boolean"},
    "trigger": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"enum": ["webhook", "schedule", "manual", "api"]},
        "event": {"type": "string"},
        "repository": {"type": "string"},
        "filters": {"type": "array", "items": {"$ref": "#/$defs/rule"}},
        "schedule": {"type": "string"},
        "timezone": {"type": "string"}
      }
    },
    "conditions": {"$ref": "#/$defs/group"},
    "actions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "parameters": {"type": "object"},
          "conditions": {"$ref": "#/$defs/group"},
          "timeout": {"type": "number", "exclusiveMinimum": 0},
          "retry": {
            "type": "object",
            "required": ["max_attempts"],
            "properties": {
              "max_attempts": {"type": "integer", "minimum": 1},
              "delay": {"type": "number", "minimum": 0},
              "backoff": {"enum": ["fixed", "linear", "exponential"]},
              "retry_on": {"type": "array", "items": {"type": "string"}}
            }
          },
          "on_error": {"enum": ["stop", "continue", "retry", "rollback", "escalate"]},
          "run_async": {"type": "boolean"},
          "depends_on": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "error_handling": {
      "type": "object",
      "properties": {
        "on_failure": {"enum": ["stop", "continue", "retry", "rollback", "escalate"]},
        "notify_channels": {"type": "array", "items": {"type": "string"}}
      }
    },
    "timeout": {"type": "number", "exclusiveMinimum": 0}
  },
  "$defs": {
    "rule": {
      "type": "object",
      "required": ["field", "operator"],
      "properties": {
        "field": {"type": "string", "minLength": 1},
        "operator": {"type": "string"},
        "value": {}
      }
    },
    "group": {
      "type": "object",
      "required": ["operator"],
      "properties": {
        "operator": {"enum": ["AND", "OR", "NOT"]},
        "rules": {
          "type": "array",
          "items": {"anyOf": [{"$ref": "#/$defs/rule"}, {"$ref": "#/$defs/group"}]}
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchema))
		if err != nil {
			schemaErr = fmt.Errorf("unmarshal workflow schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("workflow.schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("add workflow schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile("workflow.schema.json")
	})
	return compiledSchema, schemaErr
}

// ValidateDocument checks a raw JSON-compatible document against the
// workflow schema and returns one ValidationError per leaf cause.
func ValidateDocument(doc any) []ValidationError {
	schema, err := compiled()
	if err != nil {
		// The schema is a compile-time constant; failing to compile it is a
		// programming error.
		panic(err)
	}

	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if ok := asValidationError(err, &verr); ok {
			return flattenSchemaErrors(verr)
		}
		return []ValidationError{{Path: "/", Message: err.Error(), Code: "schema"}}
	}
	return nil
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	v, ok := err.(*jsonschema.ValidationError)
	if ok {
		*target = v
	}
	return ok
}

var schemaPrinter = message.NewPrinter(language.English)

// flattenSchemaErrors collects leaf causes depth-first so each reported
// error carries the most specific instance location.
func flattenSchemaErrors(err *jsonschema.ValidationError) []ValidationError {
	if len(err.Causes) == 0 {
		code := "schema"
		if kp := err.ErrorKind.KeywordPath(); len(kp) > 0 {
			code = kp[len(kp)-1]
		}
		return []ValidationError{{
			Path:    "/" + strings.Join(err.InstanceLocation, "/"),
			Message: err.ErrorKind.LocalizedString(schemaPrinter),
			Code:    code,
		}}
	}
	var out []ValidationError
	for _, cause := range err.Causes {
		out = append(out, flattenSchemaErrors(cause)...)
	}
	return out
}
