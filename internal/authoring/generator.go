// Package authoring drafts new missions with the tutor model.
package authoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/llm"
)

// Count bounds.
const (
	MinCount = 1
	MaxCount = 10
)

var missionsSchema = &llm.Schema{
	Name: "generated_missions",
	Definition: map[string]any{
		"type":     "array",
		"minItems": 1,
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":        map[string]any{"type": "string", "minLength": 1},
				"description":  map[string]any{"type": "string"},
				"starterCode":  map[string]any{"type": "string"},
				"solutionHint": map[string]any{"type": "string"},
				"difficulty":   map[string]any{"type": "string"},
				"points":       map[string]any{"type": "number"},
			},
			"required": []string{"title", "description", "starterCode", "solutionHint", "difficulty", "points"},
		},
	},
}

// Request describes a generation.
type Request struct {
	Topic    string      `json:"topic"`
	Language string      `json:"language"`
	Count    int         `json:"count"`
	Tier     domain.Tier `json:"difficulty,omitempty"`
}

// Tutors resolves the provider that authors missions.
type Tutors interface {
	Default() (llm.Provider, error)
}

// Generator produces missions from the default tutor provider.
type Generator struct {
	tutors Tutors
	logger *slog.Logger
}

func NewGenerator(tutors Tutors, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{tutors: tutors, logger: logger}
}

type generated struct {
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	StarterCode  string  `json:"starterCode"`
	SolutionHint string  `json:"solutionHint"`
	Difficulty   string  `json:"difficulty"`
	Points       float64 `json:"points"`
}

// Generate asks the model for missions about a topic. Count is clamped to
// MinCount..MaxCount. When req.Tier is set every mission is re-tagged to it.
func (g *Generator) Generate(ctx context.Context, req Request) ([]domain.Mission, error) {
	req.Topic = strings.TrimSpace(req.Topic)
	req.Language = strings.TrimSpace(req.Language)
	if req.Topic == "" || req.Language == "" {
		return nil, fmt.Errorf("%w: topic and language are required", domain.ErrInvalidInput)
	}
	if req.Tier != "" && !req.Tier.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTier, req.Tier)
	}
	req.Count = max(MinCount, min(MaxCount, req.Count))

	provider, err := g.tutors.Default()
	if err != nil {
		return nil, err
	}
	resp, err := provider.Generate(ctx, &llm.Request{
		System:      "You design short programming exercises for students. Respond with JSON only.",
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt(req)}},
		MaxTokens:   4096,
		Temperature: 0.8,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("generate missions: %w", err)
	}

	raw := stripFence(resp.Content)
	if err := llm.Validate(missionsSchema, []byte(raw)); err != nil {
		return nil, &llm.ErrInvalidResponse{Content: resp.Content, Err: err}
	}
	var items []generated
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, &llm.ErrInvalidResponse{Content: resp.Content, Err: err}
	}
	if len(items) > req.Count {
		items = items[:req.Count]
	}

	missions := make([]domain.Mission, 0, len(items))
	for _, it := range items {
		tier := req.Tier
		if tier == "" {
			parsed, err := domain.ParseTier(it.Difficulty)
			if err != nil {
				parsed = domain.TierEasy
			}
			tier = parsed
		}
		points := int(it.Points)
		if points <= 0 {
			points = domain.DefaultPointsFor(tier)
		}
		missions = append(missions, domain.Mission{
			ID:           "q_" + uuid.NewString(),
			Title:        strings.TrimSpace(it.Title),
			Description:  it.Description,
			StarterCode:  it.StarterCode,
			SolutionHint: it.SolutionHint,
			Tier:         tier,
			Points:       points,
		})
	}
	g.logger.Info("missions generated", "provider", provider.Name(), "topic", req.Topic, "count", len(missions))
	return missions, nil
}

func prompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate %d coding missions about %q in %s.\n", req.Count, req.Topic, req.Language)
	b.WriteString("Each mission needs a title, description, starterCode, a brief solutionHint and a points value.\n")
	if req.Tier != "" {
		fmt.Fprintf(&b, "All missions should be %s difficulty.\n", req.Tier)
	} else {
		b.WriteString("difficulty must be one of: Easy, Medium, Hard, Challenging.\n")
	}
	b.WriteString("Suggested points: Easy=100, Medium=250, Hard=500, Challenging=1000.\n")
	b.WriteString("Return a JSON array of objects with exactly those keys.")
	return b.String()
}

// stripFence removes a surrounding markdown code fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
