package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/api/middleware"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/auth"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/batchsync"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/evaluation"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/queue"
)

func (s *Server) openProgress(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	board, err := s.svc.Practice.Open(r.Context(), p.UserID, r.PathValue("catalog"))
	if err != nil {
		RespondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, board)
}

type draftRequest struct {
	Code string `json:"code"`
}

// saveDraft accepts an edit; the write happens after the quiet period.
func (s *Server) saveDraft(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	var req draftRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := s.svc.Practice.SaveDraft(r.Context(), p.UserID, r.PathValue("catalog"), r.PathValue("mission"), req.Code)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// sseStream writes server-sent events. Headers go out with the first event,
// so failures before any output still get a normal JSON error.
type sseStream struct {
	w       http.ResponseWriter
	r       *http.Request
	flusher http.Flusher
	mu      sync.Mutex
	started bool
}

func newSSEStream(w http.ResponseWriter, r *http.Request) (*sseStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseStream{w: w, r: r, flusher: flusher}, true
}

func (s *sseStream) send(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte(`{}`)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload)
	s.flusher.Flush()
}

// fail reports err as a JSON error before the stream starts and as an error
// event after.
func (s *sseStream) fail(err error) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		RespondError(s.w, s.r, err)
		return
	}
	_, apiErr := FromError(err)
	s.send("error", apiErr)
}

type chunkEvent struct {
	MissionID string `json:"missionId"`
	Text      string `json:"text"`
}

type verdictEvent struct {
	*evaluation.Result
	Completed  []string `json:"completedQuestions"`
	TotalScore int      `json:"totalScore"`
}

func newVerdictEvent(res *evaluation.Result) verdictEvent {
	ev := verdictEvent{Result: res, Completed: []string{}}
	if res.Progress != nil {
		ev.Completed = res.Progress.Completed
		ev.TotalScore = res.Progress.TotalScore()
	}
	return ev
}

// evaluate streams tutor prose as chunk events, then the committed verdict.
func (s *Server) evaluate(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	stream, ok := newSSEStream(w, r)
	if !ok {
		WriteError(w, r, http.StatusInternalServerError, NewAPIError("INTERNAL_ERROR", "streaming not supported"))
		return
	}
	var req draftRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	missionID := r.PathValue("mission")
	res, err := s.svc.Practice.Evaluate(r.Context(), p.UserID, r.PathValue("catalog"), missionID, req.Code,
		func(chunk string) { stream.send("chunk", chunkEvent{MissionID: missionID, Text: chunk}) })
	if err != nil {
		stream.fail(err)
		return
	}
	stream.send("verdict", newVerdictEvent(res))
	stream.send("done", struct{}{})
}

// sync runs batch sync over SSE, or queues it when ?async=true.
func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	catalogID := r.PathValue("catalog")
	if r.URL.Query().Get("async") == "true" {
		s.queueSync(w, r, p, catalogID)
		return
	}

	stream, ok := newSSEStream(w, r)
	if !ok {
		WriteError(w, r, http.StatusInternalServerError, NewAPIError("INTERNAL_ERROR", "streaming not supported"))
		return
	}
	report, err := s.svc.Practice.Sync(r.Context(), p.UserID, catalogID, batchsync.Hooks{
		OnActive: func(m domain.Mission) {
			stream.send("active", chunkEvent{MissionID: m.ID})
		},
		OnChunk: func(missionID, chunk string) {
			stream.send("chunk", chunkEvent{MissionID: missionID, Text: chunk})
		},
		OnResult: func(res *evaluation.Result) {
			stream.send("verdict", newVerdictEvent(res))
		},
	})
	if err != nil {
		stream.fail(err)
		return
	}
	stream.send("done", report)
}

func (s *Server) queueSync(w http.ResponseWriter, r *http.Request, p domain.Principal, catalogID string) {
	if s.svc.SyncJobs == nil {
		WriteError(w, r, http.StatusServiceUnavailable, NewAPIError("QUEUE_UNAVAILABLE", "background sync is not configured"))
		return
	}
	// Workers read drafts from the store.
	if err := s.svc.Practice.Flush(r.Context(), p.UserID, catalogID); err != nil {
		RespondError(w, r, err)
		return
	}
	job := queue.NewSyncJob(p.UserID, p.TeacherID, catalogID)
	if err := s.svc.SyncJobs.PublishSyncJob(r.Context(), job); err != nil {
		RespondError(w, r, fmt.Errorf("queue sync job: %w", err))
		return
	}
	s.logger.Info("sync job queued",
		"job_id", job.ID,
		"student_id", p.UserID,
		"catalog_id", catalogID,
		"request_id", middleware.GetRequestID(r.Context()),
	)
	WriteJSON(w, http.StatusAccepted, map[string]string{"jobId": job.ID.String(), "status": "queued"})
}
