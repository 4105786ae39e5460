package analysis

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// responseSchema validates the decoded service reply before it is trusted.
// Severity and line are optional; defaults are applied after validation.
const responseSchema = `{
  "type": "object",
  "required": ["results"],
  "properties": {
    "results": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["path", "violations"],
        "properties": {
          "path": {"type": "string"},
          "violations": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["rule", "message"],
              "properties": {
                "rule": {"type": "string"},
                "message": {"type": "string"},
                "line": {"type": ["integer", "null"]},
                "severity": {"enum": ["info", "warn", "error"]}
              }
            }
          }
        }
      }
    }
  }
}`

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON pulls the JSON payload out of a raw model reply, tolerating
// fenced code blocks and surrounding prose.
func ExtractJSON(raw string) (string, bool) {
	if match := fencedJSON.FindStringSubmatch(raw); match != nil {
		return match[1], true
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")

	if start < 0 || end <= start {
		return "", false
	}

	return raw[start : end+1], true
}

// envelope mirrors the wire shape of a service reply.
type envelope struct {
	Results []Result `json:"results"`
}

// ParseResults decodes and validates a raw service reply, then aligns it to
// the request batch: results come back in batch order, and files the service
// omitted get an empty result. Unknown paths in the reply are dropped.
func ParseResults(raw string, batch []FileContent) ([]Result, error) {
	payload, ok := ExtractJSON(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object found in reply", ErrMalformedResponse)
	}

	validation, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(responseSchema),
		gojsonschema.NewStringLoader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	if !validation.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, schemaErrors(validation))
	}

	var env envelope

	err = json.Unmarshal([]byte(payload), &env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	byPath := make(map[string]Result, len(env.Results))
	for _, res := range env.Results {
		byPath[res.Path] = res
	}

	aligned := make([]Result, 0, len(batch))

	for _, file := range batch {
		res, found := byPath[file.Path]
		if !found {
			res = Result{Path: file.Path, Violations: []Violation{}}
		}

		for i := range res.Violations {
			if res.Violations[i].Severity == "" {
				res.Violations[i].Severity = SeverityWarn
			}
		}

		aligned = append(aligned, res)
	}

	return aligned, nil
}

func schemaErrors(result *gojsonschema.Result) string {
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}

	return strings.Join(msgs, "; ")
}
