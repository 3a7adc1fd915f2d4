package ocr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const submitResponseSchema = `{
  "type": "object",
  "required": ["jobId", "status"],
  "properties": {
    "jobId": {"type": "string", "minLength": 1},
    "status": {"type": "string", "minLength": 1},
    "totalFiles": {"type": "integer", "minimum": 0},
    "processedFiles": {"type": "integer", "minimum": 0},
    "message": {"type": ["string", "null"]}
  }
}`

const statusResponseSchema = `{
  "type": "object",
  "required": ["jobId", "status"],
  "properties": {
    "jobId": {"type": "string", "minLength": 1},
    "settlementId": {"type": ["string", "null"]},
    "status": {"type": "string", "minLength": 1},
    "totalFiles": {"type": "integer", "minimum": 0},
    "processedFiles": {"type": "integer", "minimum": 0},
    "successFiles": {"type": "integer", "minimum": 0},
    "failedFiles": {"type": "integer", "minimum": 0},
    "errorMessage": {"type": ["string", "null"]},
    "createdAt": {"type": ["string", "null"]},
    "results": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["filename", "success"],
        "properties": {
          "filename": {"type": "string"},
          "success": {"type": "boolean"},
          "confidence": {"type": ["number", "null"], "minimum": 0, "maximum": 1},
          "engineUsed": {"type": ["string", "null"]},
          "processingTime": {"type": ["number", "null"], "minimum": 0},
          "error": {"type": ["string", "null"]},
          "extractedData": {
            "type": ["object", "null"],
            "properties": {
              "date": {"type": ["string", "null"]},
              "merchantName": {"type": ["string", "null"]},
              "businessNumber": {"type": ["string", "null"]},
              "totalAmount": {"type": ["number", "string", "null"]},
              "rawText": {"type": ["string", "null"]},
              "items": {"type": ["array", "null"]}
            }
          }
        }
      }
    }
  }
}`

func compileSchema(name, src string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// validateJSON checks a raw engine response against schema.
func validateJSON(schema *jsonschema.Schema, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
