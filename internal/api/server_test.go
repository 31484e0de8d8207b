package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/auth"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/authoring"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/catalog"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/dashboard"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/evaluation"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/llm"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/practice"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/progress"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/queue"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/realtime"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/roster"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/storage/local"
)

type testEnv struct {
	server *Server
	tutor  *llm.MockProvider
	jobs   *recordingJobs
}

type recordingJobs struct {
	jobs []*queue.SyncJob
}

func (r *recordingJobs) PublishSyncJob(_ context.Context, job *queue.SyncJob) error {
	r.jobs = append(r.jobs, job)
	return nil
}

func newTestEnv(t *testing.T, withQueue bool) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := local.NewStore(t.TempDir())
	require.NoError(t, err)

	bus := realtime.NewBus(nil, logger)
	tutor := llm.NewMockProvider()
	reg := llm.NewRegistry()
	reg.Register("mock", tutor)

	progressSvc := progress.NewService(store, progress.Config{
		Debounce:    10 * time.Millisecond,
		MaxFeedback: domain.MaxFeedbackEntries,
		IdleTimeout: time.Minute,
	}, logger, progress.WithPublisher(bus))
	t.Cleanup(func() { _ = progressSvc.Close(context.Background()) })

	catalogs := catalog.NewService(store, domain.Thresholds{}, logger)
	orch := evaluation.NewOrchestrator(reg, progressSvc, nil, evaluation.Config{}, logger)
	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	env := &testEnv{tutor: tutor, jobs: &recordingJobs{}}
	svc := Services{
		Store:     store,
		Tokens:    issuer,
		Roster:    roster.NewService(store, auth.Hasher{Cost: bcrypt.MinCost}, nil, bus, logger),
		Catalogs:  catalogs,
		Generator: authoring.NewGenerator(reg, logger),
		Practice:  practice.NewService(store, catalogs, progressSvc, orch, logger),
		Dashboard: dashboard.NewService(store, logger),
		Live:      realtime.NewHub(bus, nil, logger),
	}
	if withQueue {
		svc.SyncJobs = env.jobs
	}
	env.server = NewServer(svc, Options{DisableRateLimit: true, Logger: logger})
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type tokenBody struct {
	Token   string          `json:"token"`
	Role    string          `json:"role"`
	UserID  string          `json:"userId"`
	Account json.RawMessage `json:"account"`
}

// academy is a teacher with one class, one approved student and one
// unlocked catalog.
type academy struct {
	teacherToken string
	teacherID    string
	academyCode  string
	class        domain.Class
	studentToken string
	catalogID    string
}

func (e *testEnv) seedAcademy(t *testing.T) academy {
	t.Helper()
	var a academy

	rec := e.do(t, "POST", "/v1/auth/teachers", "", roster.TeacherSignup{
		Name: "Grace Hopper", Email: "grace@example.com", Password: "secret-pw", SchoolName: "Navy",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tb := decode[tokenBody](t, rec)
	a.teacherToken, a.teacherID = tb.Token, tb.UserID
	var teacher domain.Teacher
	require.NoError(t, json.Unmarshal(tb.Account, &teacher))
	a.academyCode = teacher.AcademyCode

	rec = e.do(t, "POST", "/v1/classes", a.teacherToken, map[string]string{"name": "Period One"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	a.class = decode[domain.Class](t, rec)

	rec = e.do(t, "POST", "/v1/auth/students", "", roster.StudentSignup{
		Name: "Ada", Email: "ada@example.com", Password: "secret-pw", MasterKey: a.academyCode, ClassCode: a.class.Code,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pending := decode[tokenBody](t, rec)
	assert.Equal(t, "student_pending", pending.Role)

	rec = e.do(t, "PUT", "/v1/students/"+pending.UserID+"/status", a.teacherToken, map[string]string{"status": "approved"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, "POST", "/v1/auth/login", "", map[string]string{"email": "ada@example.com", "password": "secret-pw"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[tokenBody](t, rec)
	require.Equal(t, "student_approved", approved.Role)
	a.studentToken = approved.Token

	rec = e.do(t, "POST", "/v1/catalogs", a.teacherToken, map[string]any{
		"title":    "Python Basics",
		"language": "Python",
		"passcode": "snake",
		"questions": []map[string]any{
			{"id": "q1", "title": "Hello", "starterCode": "# hello", "difficulty": "Easy"},
			{"id": "q2", "title": "Loops", "starterCode": "# loops", "difficulty": "Medium"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	a.catalogID = decode[domain.Catalog](t, rec).ID

	rec = e.do(t, "POST", "/v1/portal/unlock", a.studentToken, map[string]string{"teacherId": a.teacherID, "passcode": "SNAKE"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return a
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, "GET", "/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "GET", "/v1/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store":"healthy"`)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, false)
	for _, path := range []string{"/v1/me", "/v1/classes", "/v1/dashboard/analytics"} {
		rec := env.do(t, "GET", path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec := env.do(t, "GET", "/v1/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterStudent_BadCodes(t *testing.T) {
	env := newTestEnv(t, false)
	a := env.seedAcademy(t)

	tests := []struct {
		name     string
		signup   roster.StudentSignup
		wantCode string
	}{
		{"unknown academy", roster.StudentSignup{Name: "Bo", Email: "bo@example.com", Password: "secret-pw", MasterKey: "NOPE-100", ClassCode: a.class.Code}, "INVALID_MASTER_KEY"},
		{"unknown class", roster.StudentSignup{Name: "Bo", Email: "bo@example.com", Password: "secret-pw", MasterKey: a.academyCode, ClassCode: "ZZZ-999"}, "INVALID_CLASS_CODE"},
		{"taken email", roster.StudentSignup{Name: "Bo", Email: "ada@example.com", Password: "secret-pw", MasterKey: a.academyCode, ClassCode: a.class.Code}, "ACCOUNT_EXISTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "POST", "/v1/auth/students", "", tt.signup)
			assert.Contains(t, rec.Body.String(), tt.wantCode)
		})
	}
}

func TestRoleGates(t *testing.T) {
	env := newTestEnv(t, false)
	a := env.seedAcademy(t)

	rec := env.do(t, "POST", "/v1/classes", a.studentToken, map[string]string{"name": "Mine"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, "GET", "/v1/progress/"+a.catalogID, a.teacherToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, "GET", "/v1/leaderboard", a.studentToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMe(t *testing.T) {
	env := newTestEnv(t, false)
	a := env.seedAcademy(t)

	rec := env.do(t, "GET", "/v1/me", a.studentToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[map[string]any](t, rec)
	assert.Equal(t, "student_approved", me["role"])
	profile := me["profile"].(map[string]any)
	assert.Equal(t, []any{a.catalogID}, profile["unlockedSets"])
}

func TestOpenProgressAndDraft(t *testing.T) {
	env := newTestEnv(t, false)
	a := env.seedAcademy(t)

	rec := env.do(t, "PUT", "/v1/progress/"+a.catalogID+"/drafts/q1", a.studentToken, map[string]string{"code": "print('hi')"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = env.do(t, "GET", "/v1/progress/"+a.catalogID, a.studentToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	board := decode[practice.Board](t, rec)
	assert.Equal(t, []string{"q1"}, board.Staged)
	require.Len(t, board.Missions, 2)
	assert.True(t, board.Missions[0].Unlocked)
	assert.False(t, board.Missions[1].Unlocked)
}

func TestEvaluate_Streams(t *testing.T) {
	env := newTestEnv(t, false)
	a := env.seedAcademy(t)
	env.tutor.AddResponse(llm.MockResponse{Chunks: []string{
		"Logic verified. ",
		`[DATA]{"success":true,"score":100,"feedback":"Nice"}[/DATA]`,
	}})

	rec := env.do(t, "POST", "/v1/progress/"+a.catalogID+"/missions/q1/evaluate", a.studentToken, map[string]string{"code": "print('hello')"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	chunk := strings.Index(body, "event: chunk")
	verdict := strings.Index(body, "event: verdict")
	done := strings.Index(body, "event: done")
	require.True(t, chunk >= 0 && verdict > chunk && done > verdict, body)
	assert.Contains(t, body, `"completedQuestions":["q1"]`)
	assert.NotContains(t, body, "[DATA]")
}

func TestEvaluate_LockedTier(t *testing.T) {
	env := newTestEnv(t, false)
	a := env.seedAcademy(t)

	rec := env.do(t, "POST", "/v1/progress/"+a.catalogID+"/missions/q2/evaluate", a.studentToken, map[string]string{"code": "x = 1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "TIER_LOCKED")
	assert.Equal(t, 0, env.tutor.CallCount())
}

func TestEvaluate_NoVerdict(t *testing.T) {
	env := newTestEnv(t, false)
	a := env.seedAcademy(t)
	env.tutor.AddResponse(llm.MockResponse{Chunks: []string{"I forgot the data block."}})

	rec := env.do(t, "POST", "/v1/progress/"+a.catalogID+"/missions/q1/evaluate", a.studentToken, map[string]string{"code": "x = 1"})
	body := rec.Body.String()
	assert.Contains(t, body, "event: chunk")
	assert.Contains(t, body, "event: error")
	assert.Contains(t, body, "NO_VERDICT")
	assert.NotContains(t, body, "event: verdict")
}

func TestSync_Async(t *testing.T) {
	t.Run("without queue", func(t *testing.T) {
		env := newTestEnv(t, false)
		a := env.seedAcademy(t)
		rec := env.do(t, "POST", "/v1/progress/"+a.catalogID+"/sync?async=true", a.studentToken, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("queued", func(t *testing.T) {
		env := newTestEnv(t, true)
		a := env.seedAcademy(t)
		rec := env.do(t, "POST", "/v1/progress/"+a.catalogID+"/sync?async=true", a.studentToken, nil)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		require.Len(t, env.jobs.jobs, 1)
		assert.Equal(t, a.catalogID, env.jobs.jobs[0].CatalogID)
		assert.Equal(t, a.teacherID, env.jobs.jobs[0].TeacherID)
	})
}

func TestSync_Stream(t *testing.T) {
	env := newTestEnv(t, false)
	a := env.seedAcademy(t)
	rec := env.do(t, "PUT", "/v1/progress/"+a.catalogID+"/drafts/q1", a.studentToken, map[string]string{"code": "print('hi')"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	env.tutor.AddResponse(llm.MockResponse{Chunks: []string{`Good. [DATA]{"success":true,"score":100,"feedback":"ok"}[/DATA]`}})

	rec = env.do(t, "POST", "/v1/progress/"+a.catalogID+"/sync", a.studentToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := rec.Body.String()
	assert.Contains(t, body, "event: active")
	assert.Contains(t, body, "event: verdict")
	assert.Contains(t, body, `"complete":true`)
}

func TestCatalogs(t *testing.T) {
	env := newTestEnv(t, false)
	a := env.seedAcademy(t)

	rec := env.do(t, "GET", "/v1/catalogs", a.teacherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Python Basics")

	rec = env.do(t, "POST", "/v1/catalogs/"+a.catalogID+"/clone", a.teacherToken, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	clone := decode[domain.Catalog](t, rec)
	assert.NotEqual(t, a.catalogID, clone.ID)
	assert.False(t, clone.Public)

	rec = env.do(t, "GET", "/v1/catalogs/public", a.teacherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "SNAKE")

	rec = env.do(t, "DELETE", "/v1/catalogs/"+clone.ID, a.teacherToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, "GET", "/v1/catalogs/"+clone.ID, a.teacherToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateMissions(t *testing.T) {
	env := newTestEnv(t, false)
	a := env.seedAcademy(t)
	env.tutor.AddResponse(llm.MockResponse{Content: `[{"title":"Sum","description":"Add two numbers","starterCode":"def add(a, b):","solutionHint":"use +","difficulty":"Easy","points":100}]`})

	rec := env.do(t, "POST", "/v1/catalogs/generate", a.teacherToken, map[string]any{
		"topic": "arithmetic", "language": "Python", "count": 1, "difficulty": "Hard",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[map[string][]domain.Mission](t, rec)
	require.Len(t, out["missions"], 1)
	assert.Equal(t, domain.TierHard, out["missions"][0].Tier)
}

func TestObserverAndReports(t *testing.T) {
	env := newTestEnv(t, false)
	a := env.seedAcademy(t)

	rec := env.do(t, "POST", "/v1/auth/observer", "", map[string]string{"academyCode": a.academyCode, "taKey": a.class.TAKey})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	obs := decode[tokenBody](t, rec)
	assert.Equal(t, "observer", obs.Role)
	assert.NotContains(t, string(obs.Account), a.class.TAKey)

	rec = env.do(t, "GET", "/v1/dashboard/analytics", obs.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, "GET", "/v1/classes", obs.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, "GET", "/v1/reports/roster.csv", obs.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Explorer,Email,Class,Status"), rec.Body.String())

	rec = env.do(t, "GET", "/v1/reports/roster.csv?catalog="+a.catalogID, a.teacherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Explorer Name,Email,Classroom,Global XP,Node XP (Python Basics),Node Completion %"), rec.Body.String())

	rec = env.do(t, "GET", "/v1/reports/roster.pdf", a.teacherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
}

func TestObserver_BadKey(t *testing.T) {
	env := newTestEnv(t, false)
	a := env.seedAcademy(t)
	rec := env.do(t, "POST", "/v1/auth/observer", "", map[string]string{"academyCode": a.academyCode, "taKey": "W-KEY-0000"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_OBSERVER_KEY")
}
