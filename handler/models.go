package handler

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/xeipuuv/gojsonschema"
)

// RequestPayload represents the expected JSON structure in the request body.
type RequestPayload struct {
	Query string `json:"query"`
}

const requestSchemaJSON = `{
	"type": "object",
	"required": ["query"],
	"properties": {
		"query": {"type": "string"}
	}
}`

var requestSchema = mustLoadSchema(requestSchemaJSON)

func mustLoadSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid request schema: %v", err))
	}
	return schema
}

// parseQuery validates body and returns the trimmed query.
func parseQuery(body []byte) (string, error) {
	result, err := requestSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return "", fmt.Errorf("invalid request: %s", strings.Join(msgs, "; "))
	}

	var payload RequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	return trimQuery(payload.Query), nil
}

// trimQuery strips leading and trailing whitespace the way JavaScript's String.prototype.trim
// does: the byte order mark counts as whitespace, NEL (U+0085) does not.
func trimQuery(q string) string {
	return strings.TrimFunc(q, func(r rune) bool {
		if r == '\u0085' {
			return false
		}
		return unicode.IsSpace(r) || r == '\uFEFF'
	})
}
