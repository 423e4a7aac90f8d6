package stream

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// DefaultPrefix starts every event line of a server-sent event stream.
const DefaultPrefix = "data: "

// ErrStreamFailed is returned when the transport broke before the stream ended.
var ErrStreamFailed = errors.New("stream failed")

// State of a Reconstructor.
type State int

// States. Done and Failed are terminal.
const (
	Idle State = iota
	Streaming
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Message is the aggregate of a completed stream.
type Message struct {
	Text        string `json:"text"`
	ReferenceID string `json:"reference_id,omitempty"`
	Steps       []Step `json:"steps"`
}

// Reconstructor turns arbitrarily chunked stream bytes into ordered steps.
//
// Only newline-terminated lines are parsed; an unterminated tail is carried into the next Feed,
// so a chunk boundary anywhere (inside the prefix or inside the JSON) does not change the result.
// Lines without the prefix are ignored and prefixed lines whose payload is not a step object are
// dropped. A Reconstructor is owned by one consumer and is not safe for concurrent use.
type Reconstructor struct {
	prefix  []byte
	state   State
	tail    []byte
	steps   []Step
	dropped int
	err     error
}

// NewReconstructor creates a Reconstructor for lines starting with prefix, or DefaultPrefix if empty.
func NewReconstructor(prefix string) *Reconstructor {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Reconstructor{prefix: []byte(prefix)}
}

// State returns the current state.
func (r *Reconstructor) State() State {
	return r.state
}

// Dropped is the number of prefixed lines discarded as malformed.
func (r *Reconstructor) Dropped() int {
	return r.dropped
}

// Feed consumes one chunk and returns the steps completed by it, in arrival order.
// Chunks fed after Done or Failed are ignored.
func (r *Reconstructor) Feed(chunk []byte) []Step {
	if r.state == Done || r.state == Failed {
		return nil
	}
	r.state = Streaming

	r.tail = append(r.tail, chunk...)

	var emitted []Step
	for {
		idx := bytes.IndexByte(r.tail, '\n')
		if idx < 0 {
			break
		}
		line := r.tail[:idx]
		if step, ok := r.parseLine(line); ok {
			emitted = append(emitted, step)
		}
		r.tail = r.tail[idx+1:]
	}

	// keep the carry-over in its own buffer so the consumed prefix can be collected
	if len(r.tail) == 0 {
		r.tail = nil
	} else {
		r.tail = append([]byte(nil), r.tail...)
	}

	r.steps = append(r.steps, emitted...)
	return emitted
}

// Finish ends a stream that closed normally and returns the aggregate. A final prefixed line
// without a trailing newline is still parsed. After Fail it returns the failure instead.
func (r *Reconstructor) Finish() (*Message, error) {
	switch r.state {
	case Failed:
		return nil, r.err
	case Done:
		return r.message(), nil
	}

	if len(r.tail) > 0 {
		if step, ok := r.parseLine(r.tail); ok {
			r.steps = append(r.steps, step)
		}
		r.tail = nil
	}
	r.state = Done
	return r.message(), nil
}

// Fail moves to Failed and discards everything accumulated so far.
func (r *Reconstructor) Fail(cause error) {
	if r.state == Done || r.state == Failed {
		return
	}
	r.state = Failed
	r.err = fmt.Errorf("%w: %w", ErrStreamFailed, cause)
	r.steps = nil
	r.tail = nil
}

func (r *Reconstructor) message() *Message {
	parts := make([]string, 0, len(r.steps))
	for _, s := range r.steps {
		parts = append(parts, s.Name+": "+s.Text())
	}

	msg := &Message{
		Text:  strings.Join(parts, "\n\n"),
		Steps: append([]Step(nil), r.steps...),
	}
	if n := len(r.steps); n > 0 {
		msg.ReferenceID = r.steps[n-1].TraceID
	}
	return msg
}

func (r *Reconstructor) parseLine(line []byte) (Step, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, r.prefix) {
		return Step{}, false
	}

	step, err := DecodeStep(line[len(r.prefix):])
	if err != nil {
		r.dropped++
		return Step{}, false
	}
	return step, true
}

// DecodeStep parses one JSON step object. A payload that is not an object with a step name is an error.
func DecodeStep(payload []byte) (Step, error) {
	var step Step
	if err := jsonAPI.Unmarshal(bytes.TrimSpace(payload), &step); err != nil {
		return Step{}, fmt.Errorf("decoding step: %w", err)
	}
	if strings.TrimSpace(step.Name) == "" {
		return Step{}, errors.New("decoding step: missing step name")
	}
	return step, nil
}
