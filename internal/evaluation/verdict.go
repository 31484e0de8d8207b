package evaluation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/llm"
)

var (
	// ErrNoVerdict means the stream ended without a parseable verdict.
	ErrNoVerdict = errors.New("no verdict in tutor response")

	// ErrUplink means the tutor could not be reached or the stream broke.
	ErrUplink = errors.New("tutor uplink interrupted")
)

// FallbackMessage is streamed to the student when the tutor is unreachable.
const FallbackMessage = "Uplink Interrupted. Please check logic and retry."

// Verdict is the structured judgement that terminates a tutor stream.
// Score is what the model reported; it is display-only.
type Verdict struct {
	Success     bool     `json:"success"`
	Score       float64  `json:"score"`
	Feedback    string   `json:"feedback"`
	Suggestions []string `json:"suggestions,omitempty"`
}

var verdictSchema = &llm.Schema{
	Name: "evaluation_verdict",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"success":     map[string]any{"type": "boolean"},
			"score":       map[string]any{"type": "number"},
			"feedback":    map[string]any{"type": "string"},
			"suggestions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"success"},
	},
}

// ParseVerdict validates and decodes a verdict payload.
func ParseVerdict(raw string) (*Verdict, error) {
	if err := llm.Validate(verdictSchema, []byte(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoVerdict, err)
	}
	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoVerdict, err)
	}
	return &v, nil
}
