// Package batchsync replays a student's staged drafts through the evaluator,
// one mission at a time, stopping at the first mission that does not pass.
package batchsync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/evaluation"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/metrics"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/progression"
)

// Evaluator evaluates one submission.
type Evaluator interface {
	Evaluate(ctx context.Context, req evaluation.Request, sink evaluation.Sink) (*evaluation.Result, error)
}

// Stop reasons reported when a run ends early.
const (
	StopFailed    = "failed"
	StopNoVerdict = "no_verdict"
	StopUplink    = "uplink"
	StopCancelled = "cancelled"
	StopError     = "error"
)

// Step records one evaluated mission.
type Step struct {
	MissionID string `json:"missionId"`
	Success   bool   `json:"success"`
	Award     int    `json:"award"`
}

// Report summarises a run. Complete is true only when every staged mission
// passed. When the run stopped early StoppedAt names the mission that ended it.
type Report struct {
	CatalogID string `json:"catalogId"`
	Staged    int    `json:"staged"`
	Evaluated []Step `json:"evaluated"`
	Complete  bool   `json:"complete"`
	StoppedAt string `json:"stoppedAt,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Hooks observe a run. Any of them may be nil.
type Hooks struct {
	// OnActive fires before a mission is evaluated.
	OnActive func(mission domain.Mission)
	// OnChunk receives tutor prose for the active mission.
	OnChunk func(missionID, chunk string)
	// OnResult fires after a mission's verdict is committed.
	OnResult func(result *evaluation.Result)
}

// Driver runs batch syncs.
type Driver struct {
	evaluator Evaluator
	logger    *slog.Logger
}

// NewDriver creates a Driver.
func NewDriver(evaluator Evaluator, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{evaluator: evaluator, logger: logger}
}

// Run evaluates the staged missions of progress in catalog order.
//
// The staged set is fixed when the run starts. A failing verdict, a missing
// verdict or an uplink failure stops the run and is reported, not returned.
// Cancellation and storage failures stop the run and are returned alongside
// the partial report.
func (d *Driver) Run(ctx context.Context, studentID string, catalog *domain.Catalog, progress *domain.Progress, hooks Hooks) (*Report, error) {
	staged := progression.StagedMissions(catalog, progress)
	report := &Report{
		CatalogID: catalog.ID,
		Staged:    len(staged),
		Evaluated: []Step{},
	}
	logger := d.logger.With("student_id", studentID, "catalog_id", catalog.ID)
	logger.Info("batch sync started", "staged", len(staged))

	for _, mission := range staged {
		if err := ctx.Err(); err != nil {
			return d.finish(logger, report, mission.ID, StopCancelled), err
		}
		if hooks.OnActive != nil {
			hooks.OnActive(mission)
		}

		var sink evaluation.Sink
		if hooks.OnChunk != nil {
			id := mission.ID
			sink = func(chunk string) { hooks.OnChunk(id, chunk) }
		}

		res, err := d.evaluator.Evaluate(ctx, evaluation.Request{
			StudentID: studentID,
			Catalog:   catalog,
			MissionID: mission.ID,
			Code:      progress.Draft(mission.ID, mission.StarterCode),
		}, sink)
		switch {
		case err == nil:
		case errors.Is(err, evaluation.ErrNoVerdict):
			return d.finish(logger, report, mission.ID, StopNoVerdict), nil
		case errors.Is(err, evaluation.ErrUplink):
			return d.finish(logger, report, mission.ID, StopUplink), nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return d.finish(logger, report, mission.ID, StopCancelled), err
		default:
			return d.finish(logger, report, mission.ID, StopError), err
		}

		report.Evaluated = append(report.Evaluated, Step{
			MissionID: mission.ID,
			Success:   res.Verdict.Success,
			Award:     res.Award,
		})
		if hooks.OnResult != nil {
			hooks.OnResult(res)
		}
		if !res.Verdict.Success {
			return d.finish(logger, report, mission.ID, StopFailed), nil
		}
	}

	report.Complete = true
	return d.finish(logger, report, "", ""), nil
}

func (d *Driver) finish(logger *slog.Logger, report *Report, stoppedAt, reason string) *Report {
	report.StoppedAt = stoppedAt
	report.Reason = reason

	result := "complete"
	if !report.Complete {
		result = reason
	}
	metrics.SyncRunsTotal.WithLabelValues(result).Inc()
	logger.Info("batch sync finished",
		"complete", report.Complete,
		"evaluated", len(report.Evaluated),
		"stopped_at", stoppedAt,
		"reason", reason)
	return report
}
