package progression

import (
	"time"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
)

// Award is the score committed for an attempt. The model-reported score never
// enters the point economy.
func Award(mission domain.Mission, success bool) int {
	if success {
		return mission.Points
	}
	return 0
}

// Outcome is a well-formed evaluation result ready to commit.
type Outcome struct {
	Success  bool
	Feedback string
	Code     string
	At       time.Time
}

// Commit applies an evaluation outcome to progress in place:
// completion is a one-way union, the best score never regresses, the draft is
// pinned to the submitted code, and the feedback log is prepended and capped.
// It returns the awarded score for this attempt.
func Commit(progress *domain.Progress, mission domain.Mission, out Outcome, maxFeedback int) int {
	progress.Normalize()
	if maxFeedback <= 0 {
		maxFeedback = domain.MaxFeedbackEntries
	}

	award := Award(mission, out.Success)

	if out.Success && !progress.IsCompleted(mission.ID) {
		progress.Completed = append(progress.Completed, mission.ID)
	}
	if award > progress.Scores[mission.ID] {
		progress.Scores[mission.ID] = award
	} else if _, ok := progress.Scores[mission.ID]; !ok {
		progress.Scores[mission.ID] = 0
	}
	progress.Drafts[mission.ID] = out.Code

	entry := domain.FeedbackEntry{
		Timestamp: out.At,
		MissionID: mission.ID,
		Success:   out.Success,
		Score:     award,
		Feedback:  out.Feedback,
	}
	log := make([]domain.FeedbackEntry, 0, min(len(progress.Feedback)+1, maxFeedback))
	log = append(log, entry)
	for _, e := range progress.Feedback {
		if len(log) == maxFeedback {
			break
		}
		log = append(log, e)
	}
	progress.Feedback = log

	return award
}
