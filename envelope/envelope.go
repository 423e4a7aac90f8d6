// Package envelope extracts display text from the nested result records that agent steps carry.
//
// Step content arrives from several producers with no shared schema: raw model call records
// (generations), agent run records (messages, output) and plain sentinel strings. Normalize is
// total and pure; when no shape matches it reports ok=false and the caller shows the raw value.
package envelope

import (
	"encoding/json"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Shape is the recognized form of a payload.
type Shape int

// Shapes.
const (
	Unknown Shape = iota
	PlainText
	GenerationsEnvelope
	MessagesEnvelope
	OutputEnvelope
)

func (s Shape) String() string {
	switch s {
	case PlainText:
		return "plain_text"
	case GenerationsEnvelope:
		return "generations"
	case MessagesEnvelope:
		return "messages"
	case OutputEnvelope:
		return "output"
	}
	return "unknown"
}

// rule extracts text from one shape found at one place in the structure.
type rule struct {
	shape   Shape
	field   string
	extract func(v any) (string, bool)
}

// Rules in priority order. A payload with an outputs object only consults the nested rules.
var (
	nestedRules = []rule{
		{GenerationsEnvelope, "generations", fromGenerations},
		{MessagesEnvelope, "messages", fromMessages},
		{OutputEnvelope, "output", fromOutput},
	}
	topLevelRules = []rule{
		{MessagesEnvelope, "messages", fromMessages},
		{GenerationsEnvelope, "generations", fromGenerations},
	}
)

// Sniff reports the shape Normalize will dispatch on.
func Sniff(payload any) Shape {
	shape, _, _ := resolve(payload)
	return shape
}

// Normalize returns the canonical text of payload, or ok=false when it has none.
func Normalize(payload any) (string, bool) {
	_, text, ok := resolve(payload)
	return text, ok
}

// Display returns the canonical text, falling back to the payload as indented JSON.
func Display(payload any) string {
	if text, ok := Normalize(payload); ok {
		return text
	}

	value, _ := decode(payload)
	if value == nil {
		return ""
	}
	out, err := jsonAPI.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(out)
}

func resolve(payload any) (Shape, string, bool) {
	value, text := decode(payload)
	if text != nil {
		return PlainText, *text, true
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return Unknown, "", false
	}

	rules := topLevelRules
	if outputs, has := obj["outputs"]; has {
		if obj, ok = outputs.(map[string]any); !ok {
			return Unknown, "", false
		}
		rules = nestedRules
	}

	for _, r := range rules {
		v, has := obj[r.field]
		if !has || !matches(r.shape, v) {
			continue
		}
		text, ok := r.extract(v)
		return r.shape, text, ok
	}
	return Unknown, "", false
}

// matches checks the container type a rule expects before it claims the payload.
func matches(shape Shape, v any) bool {
	switch shape {
	case GenerationsEnvelope:
		outer, ok := v.([]any)
		if !ok || len(outer) == 0 {
			return false
		}
		_, ok = outer[0].([]any)
		return ok
	case MessagesEnvelope:
		_, ok := v.([]any)
		return ok
	case OutputEnvelope:
		_, ok := v.(string)
		return ok
	}
	return false
}

// decode turns payload into a JSON value. text is set when the payload is a string that does not
// hold a JSON object or array; it is then its own canonical text.
func decode(payload any) (value any, text *string) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case string:
		return decodeText(p)
	case json.RawMessage:
		return decodeRaw(p)
	case []byte:
		return decodeRaw(p)
	default:
		return p, nil
	}
}

func decodeRaw(raw []byte) (any, *string) {
	var v any
	if err := jsonAPI.Unmarshal(raw, &v); err != nil {
		return decodeText(string(raw))
	}
	if s, ok := v.(string); ok {
		return decodeText(s)
	}
	return v, nil
}

// decodeText parses Python-style reprs as well as JSON by normalizing quotes first.
func decodeText(s string) (any, *string) {
	var v any
	if err := jsonAPI.Unmarshal([]byte(strings.ReplaceAll(s, "'", `"`)), &v); err == nil {
		switch v.(type) {
		case map[string]any, []any:
			return v, nil
		}
	}
	return s, &s
}

func fromGenerations(v any) (string, bool) {
	first := v.([]any)[0].([]any)
	if len(first) == 0 {
		return "", false
	}
	gen, ok := first[0].(map[string]any)
	if !ok {
		return "", false
	}
	if text, ok := gen["text"].(string); ok && text != "" {
		return text, true
	}
	if msg, ok := gen["message"].(map[string]any); ok {
		if content, ok := msg["content"].(string); ok && content != "" {
			return content, true
		}
	}
	return "", false
}

func fromMessages(v any) (string, bool) {
	for _, m := range v.([]any) {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if content, ok := msg["content"].(string); ok && content != "" {
			return content, true
		}
	}
	return "", false
}

func fromOutput(v any) (string, bool) {
	return v.(string), true
}
