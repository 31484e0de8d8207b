package authoring

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/llm"
)

const twoMissions = `[
 {"title":"Sum","description":"Add two numbers","starterCode":"def add(a, b):\n    pass","solutionHint":"use +","difficulty":"medium","points":250},
 {"title":"Echo","description":"Print input","starterCode":"","solutionHint":"print","difficulty":"Legendary","points":0}
]`

func newGenerator(responses ...llm.MockResponse) (*Generator, *llm.MockProvider) {
	mock := llm.NewMockProvider(responses...)
	reg := llm.NewRegistry()
	reg.Register("mock", mock)
	return NewGenerator(reg, nil), mock
}

func TestGenerate(t *testing.T) {
	g, mock := newGenerator(llm.MockResponse{Content: "```json\n" + twoMissions + "\n```"})

	missions, err := g.Generate(context.Background(), Request{Topic: "arithmetic", Language: "Python", Count: 2})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(missions) != 2 {
		t.Fatalf("len = %d; want 2", len(missions))
	}

	sum, echo := missions[0], missions[1]
	if sum.Tier != domain.TierMedium || sum.Points != 250 {
		t.Errorf("Sum = %s/%d; want Medium/250", sum.Tier, sum.Points)
	}
	if echo.Tier != domain.TierEasy || echo.Points != 100 {
		t.Errorf("Echo = %s/%d; want Easy/100 fallback", echo.Tier, echo.Points)
	}
	if !strings.HasPrefix(sum.ID, "q_") || sum.ID == echo.ID {
		t.Errorf("ids = %q, %q; want distinct q_ ids", sum.ID, echo.ID)
	}

	req := mock.Calls[0]
	if !req.JSON {
		t.Error("request did not ask for JSON")
	}
	if !strings.Contains(req.Messages[0].Content, `Generate 2 coding missions about "arithmetic" in Python`) {
		t.Errorf("prompt = %q", req.Messages[0].Content)
	}
}

func TestGenerate_Retag(t *testing.T) {
	g, mock := newGenerator(llm.MockResponse{Content: twoMissions})

	missions, err := g.Generate(context.Background(), Request{Topic: "t", Language: "go", Count: 5, Tier: domain.TierHard})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	for _, m := range missions {
		if m.Tier != domain.TierHard {
			t.Errorf("%s tier = %s; want Hard", m.Title, m.Tier)
		}
	}
	if missions[0].Points != 250 {
		t.Errorf("points = %d; want model value kept", missions[0].Points)
	}
	if missions[1].Points != 500 {
		t.Errorf("points = %d; want Hard default", missions[1].Points)
	}
	if !strings.Contains(mock.Calls[0].Messages[0].Content, "Hard difficulty") {
		t.Error("prompt does not mention the tier")
	}
}

func TestGenerate_CountClamped(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 1}, {-3, 1}, {4, 4}, {10, 10}, {99, 10},
	}
	for _, tt := range tests {
		g, mock := newGenerator(llm.MockResponse{Content: twoMissions})
		missions, err := g.Generate(context.Background(), Request{Topic: "t", Language: "go", Count: tt.in})
		if err != nil {
			t.Fatalf("Generate(count=%d) error = %v", tt.in, err)
		}
		want := "Generate " + strconv.Itoa(tt.want) + " coding missions"
		if !strings.Contains(mock.Calls[0].Messages[0].Content, want) {
			t.Errorf("count %d: prompt missing %q", tt.in, want)
		}
		if len(missions) > tt.want {
			t.Errorf("count %d: got %d missions", tt.in, len(missions))
		}
	}
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		resp llm.MockResponse
		want func(error) bool
	}{
		{
			name: "missing topic",
			req:  Request{Language: "go", Count: 1},
			want: func(err error) bool { return errors.Is(err, domain.ErrInvalidInput) },
		},
		{
			name: "bad tier",
			req:  Request{Topic: "t", Language: "go", Count: 1, Tier: "Legendary"},
			want: func(err error) bool { return errors.Is(err, domain.ErrInvalidTier) },
		},
		{
			name: "not json",
			req:  Request{Topic: "t", Language: "go", Count: 1},
			resp: llm.MockResponse{Content: "Sure! Here are some missions."},
			want: func(err error) bool { var e *llm.ErrInvalidResponse; return errors.As(err, &e) },
		},
		{
			name: "schema mismatch",
			req:  Request{Topic: "t", Language: "go", Count: 1},
			resp: llm.MockResponse{Content: `[{"title":"x"}]`},
			want: func(err error) bool { var e *llm.ErrInvalidResponse; return errors.As(err, &e) },
		},
		{
			name: "empty array",
			req:  Request{Topic: "t", Language: "go", Count: 1},
			resp: llm.MockResponse{Content: `[]`},
			want: func(err error) bool { var e *llm.ErrInvalidResponse; return errors.As(err, &e) },
		},
		{
			name: "provider down",
			req:  Request{Topic: "t", Language: "go", Count: 1},
			resp: llm.MockResponse{Err: &llm.ErrProviderUnavailable{StatusCode: 503}},
			want: func(err error) bool { var e *llm.ErrProviderUnavailable; return errors.As(err, &e) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newGenerator(tt.resp)
			_, err := g.Generate(context.Background(), tt.req)
			if err == nil || !tt.want(err) {
				t.Errorf("Generate() error = %v", err)
			}
		})
	}
}

func TestGenerate_NoProvider(t *testing.T) {
	g := NewGenerator(llm.NewRegistry(), nil)
	if _, err := g.Generate(context.Background(), Request{Topic: "t", Language: "go", Count: 1}); !errors.Is(err, llm.ErrNoDefaultProvider) {
		t.Errorf("Generate() error = %v; want ErrNoDefaultProvider", err)
	}
}

func TestStripFence(t *testing.T) {
	tests := []struct{ in, want string }{
		{"[1]", "[1]"},
		{"```json\n[1]\n```", "[1]"},
		{"```\n[1]```", "[1]"},
		{"  [1]  ", "[1]"},
	}
	for _, tt := range tests {
		if got := stripFence(tt.in); got != tt.want {
			t.Errorf("stripFence(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}
