package progress

import (
	"context"
	"errors"
	"time"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/metrics"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/progression"
)

const (
	backgroundSaveTimeout = 30 * time.Second
	stopFlushTimeout      = 10 * time.Second
)

type request struct {
	ctx    context.Context
	target target
	fn     func(context.Context, *actor) error
	reply  chan error
}

// pendingSave is a debounced write running off the actor goroutine.
type pendingSave struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	drafts map[string]string
	at     time.Time
}

// actor owns one progress record. All fields are touched only by run.
type actor struct {
	svc     *Service
	id      string
	mailbox chan *request
	stop    chan struct{}
	done    chan struct{}

	progress *domain.Progress
	dirty    map[string]string
	timer    *time.Timer
	timerC   <-chan time.Time
	saving   *pendingSave
}

func newActor(s *Service, id string) *actor {
	return &actor{
		svc:     s,
		id:      id,
		mailbox: make(chan *request),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		dirty:   make(map[string]string),
	}
}

func (a *actor) run() {
	defer close(a.done)
	defer a.svc.retire(a)

	idle := time.NewTimer(a.svc.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		var savedC chan struct{}
		if a.saving != nil {
			savedC = a.saving.done
		}

		select {
		case req := <-a.mailbox:
			err := a.ensure(req.ctx, req.target)
			if err == nil {
				err = req.fn(req.ctx, a)
			}
			req.reply <- err
			idle.Reset(a.svc.cfg.IdleTimeout)

		case <-a.timerC:
			a.timerC = nil
			a.startSave()

		case <-savedC:
			a.finishSave()

		case <-idle.C:
			if a.clean() {
				return
			}
			idle.Reset(a.svc.cfg.IdleTimeout)

		case <-a.stop:
			ctx, cancel := context.WithTimeout(context.Background(), stopFlushTimeout)
			if err := a.flush(ctx); err != nil {
				a.svc.logger.Error("flush on shutdown failed", "progress_id", a.id, "error", err)
			}
			cancel()
			return
		}
	}
}

func (a *actor) clean() bool {
	return len(a.dirty) == 0 && a.saving == nil && a.timerC == nil
}

// ensure loads the record, creating it when the student opens the catalog
// for the first time.
func (a *actor) ensure(ctx context.Context, t target) error {
	if a.progress != nil {
		return nil
	}
	p, err := a.svc.store.GetProgress(ctx, a.id)
	if err == nil {
		p.Normalize()
		a.progress = p
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) || t.catalog == nil {
		return err
	}

	student := t.student
	if student == nil {
		student, err = a.svc.store.GetStudent(ctx, t.studentID)
		if err != nil {
			return err
		}
	}
	p = domain.NewProgress(student, t.catalog)
	p.LastActive = a.svc.now()
	if err := a.svc.store.SaveProgress(ctx, p); err != nil {
		return err
	}
	a.progress = p
	a.svc.logger.Info("progress created", "progress_id", a.id, "student_id", student.ID)
	a.svc.publishProgress(ctx, p)
	if _, err := a.svc.RecomputeProfile(ctx, student.ID); err != nil {
		a.svc.logger.Error("profile recompute failed", "student_id", student.ID, "error", err)
	}
	return nil
}

// edit applies a draft change and restarts the debounce window. A save
// already in flight is superseded.
func (a *actor) edit(missionID, code string) {
	a.progress.Drafts[missionID] = code
	a.dirty[missionID] = code

	if a.timerC != nil {
		a.timer.Stop()
		metrics.AutosaveCoalesced.Inc()
	}
	a.timer = time.NewTimer(a.svc.cfg.Debounce)
	a.timerC = a.timer.C

	if a.saving != nil {
		a.saving.cancel()
	}
}

func (a *actor) stopTimer() {
	if a.timerC != nil {
		a.timer.Stop()
		a.timerC = nil
	}
}

// waitSave blocks until the in-flight save, if any, has returned.
func (a *actor) waitSave(cancel bool) {
	if a.saving == nil {
		return
	}
	if cancel {
		a.saving.cancel()
	}
	<-a.saving.done
	a.finishSave()
}

func (a *actor) snapshot() (*domain.Progress, map[string]string) {
	snap := a.progress.Clone()
	snap.LastActive = a.svc.now()
	drafts := make(map[string]string, len(a.dirty))
	for k, v := range a.dirty {
		drafts[k] = v
	}
	return snap, drafts
}

func (a *actor) startSave() {
	a.waitSave(false)
	if len(a.dirty) == 0 {
		return
	}
	snap, drafts := a.snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), backgroundSaveTimeout)
	ps := &pendingSave{cancel: cancel, done: make(chan struct{}), drafts: drafts, at: snap.LastActive}
	a.saving = ps
	metrics.AutosaveWrites.Inc()

	store := a.svc.store
	go func() {
		defer close(ps.done)
		defer cancel()
		ps.err = store.SaveProgress(ctx, snap)
	}()
}

func (a *actor) finishSave() {
	ps := a.saving
	a.saving = nil
	switch {
	case ps.err == nil:
		a.markSaved(ps.drafts, ps.at)
		a.svc.publishProgress(context.Background(), a.progress)
	case errors.Is(ps.err, context.Canceled):
		a.svc.logger.Debug("draft save superseded", "progress_id", a.id)
	default:
		a.svc.logger.Error("draft save failed", "progress_id", a.id, "error", ps.err)
	}
}

// markSaved clears dirty entries that have not changed since drafts was taken.
func (a *actor) markSaved(drafts map[string]string, at time.Time) {
	for id, code := range drafts {
		if a.dirty[id] == code {
			delete(a.dirty, id)
		}
	}
	a.progress.LastActive = at
}

// flush writes pending drafts now.
func (a *actor) flush(ctx context.Context) error {
	a.stopTimer()
	a.waitSave(false)
	if a.progress == nil || len(a.dirty) == 0 {
		return nil
	}
	snap, drafts := a.snapshot()
	metrics.AutosaveWrites.Inc()
	if err := a.svc.store.SaveProgress(ctx, snap); err != nil {
		return err
	}
	a.markSaved(drafts, snap.LastActive)
	a.svc.publishProgress(ctx, a.progress)
	return nil
}

// refresh reloads the stored record and reapplies unsaved drafts on top.
func (a *actor) refresh(ctx context.Context) error {
	fresh, err := a.svc.store.GetProgress(ctx, a.id)
	if err != nil {
		return err
	}
	fresh.Normalize()
	for id, code := range a.dirty {
		fresh.Drafts[id] = code
	}
	a.progress = fresh
	return nil
}

// commit applies an evaluation outcome and saves synchronously. Pending
// drafts ride along with the commit write.
func (a *actor) commit(ctx context.Context, mission domain.Mission, out progression.Outcome) (*domain.Progress, error) {
	a.stopTimer()
	a.waitSave(true)

	now := a.svc.now()
	if out.At.IsZero() {
		out.At = now
	}
	next := a.progress.Clone()
	progression.Commit(next, mission, out, a.svc.cfg.MaxFeedback)
	next.LastActive = now

	if err := a.svc.store.SaveProgress(ctx, next); err != nil {
		if len(a.dirty) > 0 {
			a.timer = time.NewTimer(a.svc.cfg.Debounce)
			a.timerC = a.timer.C
		}
		return nil, err
	}
	a.progress = next
	clear(a.dirty)
	a.svc.publishProgress(ctx, next)
	return next.Clone(), nil
}
