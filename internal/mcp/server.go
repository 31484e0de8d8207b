package mcp

import (
	"context"
	"fmt"
	"strings"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/evaluation"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/practice"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/roster"
)

// Practice is the student-facing slice of practice.Service.
type Practice interface {
	Open(ctx context.Context, studentID, catalogID string) (*practice.Board, error)
	Evaluate(ctx context.Context, studentID, catalogID, missionID, code string, sink evaluation.Sink) (*evaluation.Result, error)
}

// Profiles resolves a student's derived profile.
type Profiles interface {
	Profile(ctx context.Context, studentID string) (*roster.Profile, error)
}

// Server wraps the MCP server with guild tools.
type Server struct {
	mcpServer *server.Server
	practice  Practice
	profiles  Profiles
}

// Config contains configuration for the MCP server
type Config struct {
	Practice Practice
	Profiles Profiles
	Version  string
}

// NewServer creates a new MCP server for the guild.
func NewServer(cfg Config) *Server {
	s := &Server{
		practice: cfg.Practice,
		profiles: cfg.Profiles,
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "polyglot-guild",
		Version: version,
	}, server.WithInstructions(`
Polyglot Guild is a classroom coding practice service.
Students work through mission catalogs; harder tiers unlock as easier missions are completed.

Available tools:
- guild_list_missions: Missions of a catalog with unlock, completion and staged state
- guild_staged: Missions with edited code that has not been evaluated yet
- guild_evaluate: Submit code for a mission and get the tutor's verdict
- guild_profile: A student's experience, level and language mastery
`))

	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.Tool("guild_list_missions").
		Description("List the missions of an unlocked catalog with their unlock state.").
		Handler(s.handleListMissions)

	s.mcpServer.Tool("guild_staged").
		Description("List missions whose draft differs from the starter code and is not yet complete.").
		Handler(s.handleStaged)

	s.mcpServer.Tool("guild_evaluate").
		Description("Evaluate code for a mission. Returns the tutor's explanation and verdict.").
		Handler(s.handleEvaluate)

	s.mcpServer.Tool("guild_profile").
		Description("Get a student's profile: experience, level and language mastery.").
		Handler(s.handleProfile)
}

type CatalogInput struct {
	StudentID string `json:"student_id" jsonschema:"description=Student uid"`
	CatalogID string `json:"catalog_id" jsonschema:"description=Catalog (question set) id"`
}

type MissionSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Tier      string `json:"tier"`
	Points    int    `json:"points"`
	Unlocked  bool   `json:"unlocked"`
	Completed bool   `json:"completed"`
	Staged    bool   `json:"staged"`
}

type TierSummary struct {
	Tier      string `json:"tier"`
	Unlocked  bool   `json:"unlocked"`
	Completed int    `json:"completed"`
	Required  int    `json:"required"`
}

type ListMissionsOutput struct {
	Catalog  string           `json:"catalog"`
	Language string           `json:"language"`
	Score    int              `json:"score"`
	Tiers    []TierSummary    `json:"tiers"`
	Missions []MissionSummary `json:"missions"`
}

type StagedOutput struct {
	Staged  []MissionSummary `json:"staged"`
	Message string           `json:"message"`
}

type EvaluateInput struct {
	StudentID string `json:"student_id" jsonschema:"description=Student uid"`
	CatalogID string `json:"catalog_id" jsonschema:"description=Catalog (question set) id"`
	MissionID string `json:"mission_id" jsonschema:"description=Mission (question) id"`
	Code      string `json:"code,omitempty" jsonschema:"description=Source to evaluate; the saved draft is used when empty"`
}

type EvaluateOutput struct {
	MissionID string   `json:"mission_id"`
	Prose     string   `json:"prose"`
	Success   bool     `json:"success"`
	Feedback  string   `json:"feedback"`
	Award     int      `json:"award"`
	Completed []string `json:"completed"`
	Score     int      `json:"score"`
}

type ProfileInput struct {
	StudentID string `json:"student_id" jsonschema:"description=Student uid"`
}

type ProfileOutput struct {
	Name            string         `json:"name"`
	Status          string         `json:"status"`
	TotalXP         int            `json:"total_xp"`
	Level           int            `json:"level"`
	LanguageMastery map[string]int `json:"language_mastery"`
	Completed       []string       `json:"completed_catalogs"`
	Unlocked        []string       `json:"unlocked_catalogs"`
}

func summarize(m practice.MissionView) MissionSummary {
	return MissionSummary{
		ID:        m.ID,
		Title:     m.Title,
		Tier:      string(m.Tier),
		Points:    m.Points,
		Unlocked:  m.Unlocked,
		Completed: m.Completed,
		Staged:    m.Staged,
	}
}

func (s *Server) handleListMissions(ctx context.Context, input CatalogInput) (ListMissionsOutput, error) {
	board, err := s.practice.Open(ctx, input.StudentID, input.CatalogID)
	if err != nil {
		return ListMissionsOutput{}, fmt.Errorf("open catalog: %w", err)
	}
	out := ListMissionsOutput{
		Catalog:  board.Catalog.Title,
		Language: board.Catalog.Language,
		Score:    board.Progress.TotalScore(),
		Tiers:    make([]TierSummary, 0, len(board.Tiers)),
		Missions: make([]MissionSummary, 0, len(board.Missions)),
	}
	for _, t := range board.Tiers {
		out.Tiers = append(out.Tiers, TierSummary{
			Tier:      string(t.Tier),
			Unlocked:  t.Unlocked,
			Completed: t.Completed,
			Required:  t.Required,
		})
	}
	for _, m := range board.Missions {
		out.Missions = append(out.Missions, summarize(m))
	}
	return out, nil
}

func (s *Server) handleStaged(ctx context.Context, input CatalogInput) (StagedOutput, error) {
	board, err := s.practice.Open(ctx, input.StudentID, input.CatalogID)
	if err != nil {
		return StagedOutput{}, fmt.Errorf("open catalog: %w", err)
	}
	out := StagedOutput{Staged: []MissionSummary{}}
	for _, m := range board.Missions {
		if m.Staged {
			out.Staged = append(out.Staged, summarize(m))
		}
	}
	if len(out.Staged) == 0 {
		out.Message = "Nothing staged. Every edited mission has been evaluated."
	} else {
		out.Message = fmt.Sprintf("%d mission(s) staged for evaluation.", len(out.Staged))
	}
	return out, nil
}

// handleEvaluate collects the streamed prose instead of forwarding chunks;
// MCP tool calls return a single result.
func (s *Server) handleEvaluate(ctx context.Context, input EvaluateInput) (EvaluateOutput, error) {
	var prose strings.Builder
	res, err := s.practice.Evaluate(ctx, input.StudentID, input.CatalogID, input.MissionID, input.Code,
		func(chunk string) { prose.WriteString(chunk) })
	if err != nil {
		return EvaluateOutput{}, fmt.Errorf("evaluate %s: %w", input.MissionID, err)
	}

	out := EvaluateOutput{
		MissionID: res.MissionID,
		Prose:     res.Prose,
		Award:     res.Award,
		Completed: []string{},
	}
	if out.Prose == "" {
		out.Prose = prose.String()
	}
	if res.Verdict != nil {
		out.Success = res.Verdict.Success
		out.Feedback = res.Verdict.Feedback
	}
	if res.Progress != nil {
		out.Completed = res.Progress.Completed
		out.Score = res.Progress.TotalScore()
	}
	return out, nil
}

func (s *Server) handleProfile(ctx context.Context, input ProfileInput) (ProfileOutput, error) {
	p, err := s.profiles.Profile(ctx, input.StudentID)
	if err != nil {
		return ProfileOutput{}, fmt.Errorf("load profile: %w", err)
	}
	return ProfileOutput{
		Name:            p.Name,
		Status:          p.Status,
		TotalXP:         p.GlobalXP,
		Level:           p.Level,
		LanguageMastery: p.LanguageMastery,
		Completed:       p.CompletedCatalogs,
		Unlocked:        p.UnlockedSets,
	}, nil
}

// ServeStdio starts the MCP server on stdio.
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
