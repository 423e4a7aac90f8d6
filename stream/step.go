// Package stream reconstructs agent answers from prefixed, line-delimited event streams.
package stream

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/ortelius/vulngraph/envelope"
)

// jsonAPI decodes stream payloads with encoding/json semantics.
var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Step is one event emitted by the agent backend.
type Step struct {
	Name            string          `json:"step"`
	Content         json.RawMessage `json:"content,omitempty"`
	TraceID         string          `json:"trace_id,omitempty"`
	ExternalTraceID string          `json:"external_trace_id,omitempty"`
	Agent           string          `json:"agent,omitempty"`
}

// Kind classifies the step for presentation.
func (s Step) Kind() Kind {
	return ParseKind(s.Name)
}

// Text is the content as display text: JSON strings are unquoted, other values keep their JSON form.
func (s Step) Text() string {
	raw := bytes.TrimSpace(s.Content)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var text string
		if err := jsonAPI.Unmarshal(raw, &text); err == nil {
			return text
		}
	}
	return string(raw)
}

// Display is the content's canonical text when it is a known result envelope, else its raw form.
func (s Step) Display() string {
	return envelope.Display(s.Content)
}

// Kind is the closed set of step kinds.
type Kind int

// Step kinds. Agent kinds come from the multi-agent backend, which names steps
// "<Role> Agent" while working and "<Role> Complete" when done.
const (
	KindUnknown Kind = iota
	KindThought
	KindAction
	KindFinalAnswer
	KindError
	KindAgentWorking
	KindAgentComplete
	KindToolExecution
)

// ParseKind maps a wire step name onto a Kind.
func ParseKind(name string) Kind {
	name = strings.TrimSpace(name)
	switch {
	case strings.EqualFold(name, "Thought"):
		return KindThought
	case strings.EqualFold(name, "Action"):
		return KindAction
	case strings.EqualFold(name, "Final Answer"):
		return KindFinalAnswer
	case strings.EqualFold(name, "Error"):
		return KindError
	case strings.EqualFold(name, "Tool Execution"):
		return KindToolExecution
	case strings.HasSuffix(name, " Complete"):
		return KindAgentComplete
	case strings.HasSuffix(name, " Agent"):
		return KindAgentWorking
	}
	return KindUnknown
}

func (k Kind) String() string {
	return Presentation(k).Label
}

// Style is how a step kind is shown in a terminal.
type Style struct {
	Label string
	Icon  string
	Color *color.Color
}

// Render prefixes text with the icon and colours it.
func (s Style) Render(text string) string {
	return s.Color.Sprint(s.Icon + " " + text)
}

var presentation = map[Kind]Style{
	KindThought:       {Label: "thought", Icon: "?", Color: color.New(color.FgCyan)},
	KindAction:        {Label: "action", Icon: ">", Color: color.New(color.FgYellow)},
	KindFinalAnswer:   {Label: "final_answer", Icon: "=", Color: color.New(color.FgGreen, color.Bold)},
	KindError:         {Label: "error", Icon: "!", Color: color.New(color.FgRed, color.Bold)},
	KindAgentWorking:  {Label: "agent_working", Icon: "~", Color: color.New(color.FgMagenta)},
	KindAgentComplete: {Label: "agent_complete", Icon: "+", Color: color.New(color.FgBlue)},
	KindToolExecution: {Label: "tool_execution", Icon: "#", Color: color.New(color.FgYellow, color.Faint)},
	KindUnknown:       {Label: "unknown", Icon: "*", Color: color.New(color.FgWhite)},
}

// Presentation returns the style for a kind.
func Presentation(k Kind) Style {
	if s, ok := presentation[k]; ok {
		return s
	}
	return presentation[KindUnknown]
}
