// Package evaluation drives a single submission through the AI tutor,
// splits the stream into prose and a verdict, and commits the verdict.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/llm"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/metrics"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/progression"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/sandbox"
)

// Tutors resolves the provider that reviews submissions.
type Tutors interface {
	Default() (llm.Provider, error)
}

// Sink receives prose as it becomes displayable.
type Sink func(chunk string)

// Committer applies a well-formed outcome to the student's progress record.
// Implementations persist the record and, when the outcome succeeded,
// recompute the student's profile.
type Committer interface {
	CommitOutcome(ctx context.Context, studentID string, catalog *domain.Catalog, mission domain.Mission, out progression.Outcome) (*domain.Progress, error)
}

// TrialRunner executes a submission once before it is evaluated.
type TrialRunner interface {
	Run(ctx context.Context, language, code string) (*sandbox.Result, error)
}

// Request is one submission.
type Request struct {
	StudentID string
	Catalog   *domain.Catalog
	MissionID string
	Code      string
}

// Result is the outcome of a committed evaluation.
type Result struct {
	MissionID string           `json:"missionId"`
	Prose     string           `json:"prose"`
	Verdict   *Verdict         `json:"verdict"`
	Award     int              `json:"award"`
	Progress  *domain.Progress `json:"-"`
}

// Config tunes the orchestrator.
type Config struct {
	MaxFeedback int
	MaxTokens   int
	Temperature float64
	Model       string
}

// Orchestrator evaluates submissions.
type Orchestrator struct {
	tutors    Tutors
	committer Committer
	trial     TrialRunner
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator. trial may be nil.
func NewOrchestrator(tutors Tutors, committer Committer, trial TrialRunner, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.MaxFeedback <= 0 {
		cfg.MaxFeedback = domain.MaxFeedbackEntries
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		tutors:    tutors,
		committer: committer,
		trial:     trial,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Evaluate streams tutor prose to sink and commits the verdict.
//
// Gateway failures emit FallbackMessage to sink and return an error wrapping
// ErrUplink. A stream without a parseable verdict returns ErrNoVerdict. In both
// cases progress is left untouched.
func (o *Orchestrator) Evaluate(ctx context.Context, req Request, sink Sink) (*Result, error) {
	if sink == nil {
		sink = func(string) {}
	}
	mission, ok := req.Catalog.Mission(req.MissionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMissionNotFound, req.MissionID)
	}
	language := req.Catalog.Language
	start := time.Now()

	logger := o.logger.With(
		"student_id", req.StudentID,
		"catalog_id", req.Catalog.ID,
		"mission_id", mission.ID)

	provider, err := o.tutors.Default()
	if err != nil {
		return nil, o.uplinkFailure(logger, language, sink, err)
	}

	var trial *sandbox.Result
	if o.trial != nil {
		trial, err = o.trial.Run(ctx, language, req.Code)
		if err != nil {
			// The tutor can still judge the code without a run.
			logger.Warn("trial run failed", "error", err)
			trial = nil
		}
	}

	parser := NewStreamParser()
	if err := o.stream(ctx, provider, BuildPrompt(language, mission, req.Code, trial), parser, sink); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, o.uplinkFailure(logger, language, sink, err)
	}
	if rest := parser.Flush(); rest != "" {
		sink(rest)
	}

	raw, ok := parser.VerdictJSON()
	if !ok {
		metrics.EvaluationsTotal.WithLabelValues(language, "no_verdict").Inc()
		logger.Warn("tutor response had no verdict", "length", len(parser.Raw()))
		return nil, ErrNoVerdict
	}
	verdict, err := ParseVerdict(raw)
	if err != nil {
		metrics.EvaluationsTotal.WithLabelValues(language, "no_verdict").Inc()
		logger.Warn("tutor verdict rejected", "error", err)
		return nil, err
	}

	feedback := verdict.Feedback
	if feedback == "" {
		feedback = parser.Prose()
	}

	progress, err := o.committer.CommitOutcome(ctx, req.StudentID, req.Catalog, mission, progression.Outcome{
		Success:  verdict.Success,
		Feedback: feedback,
		Code:     req.Code,
		At:       o.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("commit verdict: %w", err)
	}

	award := progression.Award(mission, verdict.Success)
	outcome := "failure"
	if verdict.Success {
		outcome = "success"
	}
	metrics.EvaluationsTotal.WithLabelValues(language, outcome).Inc()
	metrics.EvaluationDuration.WithLabelValues(language).Observe(time.Since(start).Seconds())

	logger.Info("evaluation committed",
		"success", verdict.Success,
		"award", award,
		"reported_score", verdict.Score,
		"duration", time.Since(start))

	return &Result{
		MissionID: mission.ID,
		Prose:     parser.Prose(),
		Verdict:   verdict,
		Award:     award,
		Progress:  progress,
	}, nil
}

func (o *Orchestrator) stream(ctx context.Context, provider llm.Provider, prompt string, parser *StreamParser, sink Sink) error {
	req := &llm.Request{
		Model:       o.cfg.Model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	}

	if !provider.SupportsStreaming() {
		resp, err := provider.Generate(ctx, req)
		if err != nil {
			return err
		}
		if out := parser.Write(resp.Content); out != "" {
			sink(out)
		}
		return nil
	}

	ch, err := provider.GenerateStream(ctx, req)
	if err != nil {
		return err
	}
	for chunk := range ch {
		if chunk.Error != nil {
			return chunk.Error
		}
		if chunk.Content != "" {
			if out := parser.Write(chunk.Content); out != "" {
				sink(out)
			}
		}
		if chunk.Done {
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) uplinkFailure(logger *slog.Logger, language string, sink Sink, cause error) error {
	metrics.EvaluationsTotal.WithLabelValues(language, "uplink_error").Inc()
	logger.Error("tutor uplink failed", "error", cause)
	sink(FallbackMessage)
	return errors.Join(ErrUplink, cause)
}
