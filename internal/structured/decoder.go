// Package structured pulls typed payloads out of loosely formatted model
// output: code fences, chatty preambles and trailing commentary are tolerated,
// the embedded JSON document is validated against a schema before decoding.
package structured

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"

	"ai-analysis-pipeline/internal/domain"
)

// Decoder validates and decodes one payload shape.
type Decoder struct {
	schema *gojsonschema.Schema
}

// NewDecoder compiles a JSON schema given as a string.
func NewDecoder(schemaJSON string) (*Decoder, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &Decoder{schema: schema}, nil
}

// MustDecoder is NewDecoder for package-level schemas.
func MustDecoder(schemaJSON string) *Decoder {
	d, err := NewDecoder(schemaJSON)
	if err != nil {
		panic(err)
	}
	return d
}

// Decode extracts the JSON document from raw, validates it and unmarshals it
// into out. Errors wrap domain.ErrNoStructuredPayload or
// domain.ErrSchemaViolation so callers can fall back without string matching.
func (d *Decoder) Decode(raw string, out any) error {
	doc, err := Extract(raw)
	if err != nil {
		return err
	}
	res, err := d.schema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		// gojsonschema reports malformed JSON here
		return fmt.Errorf("%w: %v", domain.ErrNoStructuredPayload, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, desc := range res.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("%w: %s", domain.ErrSchemaViolation, strings.Join(msgs, "; "))
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSchemaViolation, err)
	}
	return nil
}

// Extract returns the first complete JSON object or array in raw. A fenced
// block is preferred over surrounding prose.
func Extract(raw string) (string, error) {
	s := strings.TrimSpace(stripBOM(raw))
	if fenced, ok := fencedBlock(s); ok {
		s = fenced
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", domain.ErrNoStructuredPayload
	}
	if end, ok := matchClose(s, start); ok {
		return s[start : end+1], nil
	}

	// Unbalanced: fall back to the widest span and let validation decide.
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end <= start {
		return "", domain.ErrNoStructuredPayload
	}
	return s[start : end+1], nil
}

func stripBOM(s string) string {
	return strings.TrimPrefix(s, "\ufeff")
}

// fencedBlock returns the body of the first ``` fence, dropping a language tag.
func fencedBlock(s string) (string, bool) {
	open := strings.Index(s, "```")
	if open < 0 {
		return "", false
	}
	body := s[open+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "{[") {
		body = body[nl+1:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return "", false
	}
	return body, true
}

// matchClose finds the bracket closing s[start], skipping string literals.
func matchClose(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// Truncate cuts s to at most n runes, appending an ellipsis when it cuts.
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	if n == 1 {
		return string(runes[:1])
	}
	return strings.TrimSpace(string(runes[:n-1])) + "…"
}
