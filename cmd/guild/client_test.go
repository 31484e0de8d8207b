package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/batchsync"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/config"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/practice"
)

func testCommand(server string) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("server", server, "")
	return cmd
}

func TestNewClient_RequiresLogin(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if _, err := newClient(testCommand(""), true); err == nil || !strings.Contains(err.Error(), "not logged in") {
		t.Errorf("newClient() error = %v; want not logged in", err)
	}

	c, err := newClient(testCommand(""), false)
	if err != nil {
		t.Fatalf("newClient() error = %v", err)
	}
	if c.base != defaultServer {
		t.Errorf("base = %q; want %q", c.base, defaultServer)
	}
}

func TestNewClient_SavedCredentials(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if err := config.SaveCredentials(&config.Credentials{Server: "http://guild.test/", Token: "tok"}); err != nil {
		t.Fatalf("SaveCredentials() error = %v", err)
	}

	c, err := newClient(testCommand(""), true)
	if err != nil {
		t.Fatalf("newClient() error = %v", err)
	}
	if c.base != "http://guild.test" || c.token != "tok" {
		t.Errorf("client = %q/%q; want http://guild.test/tok", c.base, c.token)
	}

	c, err = newClient(testCommand("http://other.test"), true)
	if err != nil {
		t.Fatalf("newClient() error = %v", err)
	}
	if c.base != "http://other.test" {
		t.Errorf("--server base = %q; want http://other.test", c.base)
	}
}

func TestClientDo(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/ok":
			json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
		default:
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"error":{"code":"TIER_LOCKED","message":"complete more missions"}}`)
		}
	}))
	defer ts.Close()

	c := &client{base: ts.URL, token: "tok", http: ts.Client()}

	var out map[string]string
	if err := c.do(context.Background(), http.MethodGet, "/ok", nil, &out); err != nil {
		t.Fatalf("do() error = %v", err)
	}
	if out["status"] != "healthy" {
		t.Errorf("status = %q; want healthy", out["status"])
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q; want Bearer tok", gotAuth)
	}

	err := c.do(context.Background(), http.MethodGet, "/locked", nil, nil)
	var apiErr *serverError
	if !errors.As(err, &apiErr) {
		t.Fatalf("do() error = %v; want *serverError", err)
	}
	if apiErr.Status != http.StatusForbidden || apiErr.Code != "TIER_LOCKED" {
		t.Errorf("error = %d %s; want 403 TIER_LOCKED", apiErr.Status, apiErr.Code)
	}
}

func TestReadEvents(t *testing.T) {
	stream := "event: chunk\ndata: {\"text\":\"Hi\"}\n\n" +
		"event: verdict\ndata: {\"missionId\":\"q1\"}\n\n" +
		": keep-alive\n\n" +
		"event: done\ndata: {}\n\n"

	var events []string
	err := readEvents(strings.NewReader(stream), func(event string, data json.RawMessage) error {
		events = append(events, event+" "+string(data))
		return nil
	})
	if err != nil {
		t.Fatalf("readEvents() error = %v", err)
	}
	want := []string{`chunk {"text":"Hi"}`, `verdict {"missionId":"q1"}`, `done {}`}
	if len(events) != len(want) {
		t.Fatalf("events = %v; want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %q; want %q", i, events[i], want[i])
		}
	}
}

func TestReadEvents_StopsOnError(t *testing.T) {
	stream := "event: error\ndata: {\"code\":\"NO_VERDICT\",\"message\":\"no verdict\"}\n\nevent: done\ndata: {}\n\n"
	calls := 0
	err := readEvents(strings.NewReader(stream), func(event string, data json.RawMessage) error {
		calls++
		if event == "error" {
			return eventError(data)
		}
		return nil
	})
	var apiErr *serverError
	if !errors.As(err, &apiErr) || apiErr.Code != "NO_VERDICT" {
		t.Errorf("error = %v; want NO_VERDICT", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d; want 1", calls)
	}
}

func TestPrintBoard(t *testing.T) {
	catalog := &domain.Catalog{
		ID:       "set_py",
		Title:    "Python Basics",
		Language: "Python",
		Missions: []domain.Mission{
			{ID: "e1", Title: "Hello", StarterCode: "# e1", Tier: domain.TierEasy, Points: 100},
			{ID: "e2", Title: "Loops", StarterCode: "# e2", Tier: domain.TierEasy, Points: 100},
			{ID: "m1", Title: "Dicts", StarterCode: "# m1", Tier: domain.TierMedium, Points: 250},
		},
	}
	p := &domain.Progress{
		CatalogID: "set_py",
		Completed: []string{"e1"},
		Scores:    map[string]int{"e1": 100},
		Drafts:    map[string]string{"e2": "for i in x: pass"},
	}

	var buf bytes.Buffer
	printBoard(&buf, practice.NewBoard(catalog, p))
	out := buf.String()

	for _, want := range []string{"Python Basics (Python)", "Score: 100", "✓ e1", "* e2", "- m1", "guild sync set_py"} {
		if !strings.Contains(out, want) {
			t.Errorf("board output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintReport(t *testing.T) {
	tests := []struct {
		name   string
		report batchsync.Report
		want   string
	}{
		{"nothing staged", batchsync.Report{}, "Nothing staged."},
		{
			"stopped early",
			batchsync.Report{
				Staged:    2,
				Evaluated: []batchsync.Step{{MissionID: "e1", Success: true, Award: 100}, {MissionID: "e2"}},
				StoppedAt: "e2",
				Reason:    "mission failed",
			},
			"Stopped at e2: mission failed",
		},
		{
			"complete",
			batchsync.Report{Staged: 1, Evaluated: []batchsync.Step{{MissionID: "e1", Success: true}}, Complete: true},
			"1 passed (e1)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printReport(&buf, &tt.report)
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("report = %q; want it to contain %q", buf.String(), tt.want)
			}
		})
	}
}
