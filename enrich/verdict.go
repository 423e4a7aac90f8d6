package enrich

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Verdict is the classified oracle answer for a pair.
type Verdict int

// Verdicts. Failed means no answer could be obtained or persisted.
const (
	Failed Verdict = iota
	Affirmative
	Negative
)

func (v Verdict) String() string {
	switch v {
	case Affirmative:
		return "affirmative"
	case Negative:
		return "negative"
	default:
		return "failed"
	}
}

// MarshalJSON writes the verdict name.
func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON reads a verdict name written by MarshalJSON.
func (v *Verdict) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for _, candidate := range []Verdict{Failed, Affirmative, Negative} {
		if candidate.String() == name {
			*v = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown verdict %q", name)
}

// Classify treats any reply containing "yes", in any case, as affirmative.
// This is a plain substring test: "Yessir" and "eyes" count as well.
func Classify(reply string) Verdict {
	if strings.Contains(strings.ToLower(reply), "yes") {
		return Affirmative
	}
	return Negative
}
