package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/batchsync"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/evaluation"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/practice"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock <passcode>",
	Short: "Unlock a catalog with the passcode your teacher gave you",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnlock,
}

var missionsCmd = &cobra.Command{
	Use:   "missions <catalog>",
	Short: "Show the missions of an unlocked catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  runMissions,
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <catalog> <mission> [file]",
	Short: "Submit code for a mission and stream the tutor's review",
	Long: `Submit code for a mission. The code is read from file, or from stdin
when file is "-". Without a file the saved draft is evaluated.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runEvaluate,
}

var syncCmd = &cobra.Command{
	Use:   "sync <catalog>",
	Short: "Evaluate every staged mission in order",
	Args:  cobra.ExactArgs(1),
	RunE:  runSync,
}

func init() {
	unlockCmd.Flags().String("teacher", "", "Teacher uid (defaults to your own teacher)")
	syncCmd.Flags().Bool("async", false, "Queue the sync and return immediately")
}

func runUnlock(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd, true)
	if err != nil {
		return err
	}
	teacherID, _ := cmd.Flags().GetString("teacher")
	if teacherID == "" {
		var me struct {
			TeacherID string `json:"teacherId"`
		}
		if err := c.do(cmd.Context(), http.MethodGet, "/v1/me", nil, &me); err != nil {
			return err
		}
		teacherID = me.TeacherID
	}

	var catalog struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Language string `json:"language"`
		Missions int    `json:"missions"`
	}
	body := map[string]string{"teacherId": teacherID, "passcode": args[0]}
	if err := c.do(cmd.Context(), http.MethodPost, "/v1/portal/unlock", body, &catalog); err != nil {
		return err
	}
	fmt.Printf("Unlocked %s (%s, %d missions) as %s\n", catalog.Title, catalog.Language, catalog.Missions, catalog.ID)
	return nil
}

func runMissions(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd, true)
	if err != nil {
		return err
	}
	var board practice.Board
	if err := c.do(cmd.Context(), http.MethodGet, "/v1/progress/"+url.PathEscape(args[0]), nil, &board); err != nil {
		return err
	}
	printBoard(cmd.OutOrStdout(), &board)
	return nil
}

func printBoard(w io.Writer, b *practice.Board) {
	if b.Catalog != nil {
		fmt.Fprintf(w, "%s (%s)\n", b.Catalog.Title, b.Catalog.Language)
	}
	if b.Progress != nil {
		fmt.Fprintf(w, "Score: %d\n", b.Progress.TotalScore())
	}
	fmt.Fprintln(w)
	for _, t := range b.Tiers {
		state := "open"
		if !t.Unlocked {
			state = fmt.Sprintf("locked, %d more to unlock", max(t.Required-t.Completed, 0))
		}
		fmt.Fprintf(w, "%-12s %d/%d  %s\n", t.Tier, t.Completed, t.Total, state)
	}
	fmt.Fprintln(w)
	for _, m := range b.Missions {
		mark := " "
		switch {
		case m.Completed:
			mark = "✓"
		case m.Staged:
			mark = "*"
		case !m.Unlocked:
			mark = "-"
		}
		fmt.Fprintf(w, "%s %-20s %-12s %4d pts  %s\n", mark, m.ID, m.Tier, m.Points, m.Title)
	}
	if len(b.Staged) > 0 && b.Catalog != nil {
		fmt.Fprintf(w, "\n%d staged (* above). Run 'guild sync %s' to evaluate them.\n", len(b.Staged), b.Catalog.ID)
	}
}

// verdictPayload mirrors the verdict event.
type verdictPayload struct {
	evaluation.Result
	Completed  []string `json:"completedQuestions"`
	TotalScore int      `json:"totalScore"`
}

type chunkPayload struct {
	MissionID string `json:"missionId"`
	Text      string `json:"text"`
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd, true)
	if err != nil {
		return err
	}
	var body any
	if len(args) == 3 {
		code, err := readSource(args[2])
		if err != nil {
			return err
		}
		body = map[string]string{"code": code}
	}

	out := cmd.OutOrStdout()
	path := fmt.Sprintf("/v1/progress/%s/missions/%s/evaluate", url.PathEscape(args[0]), url.PathEscape(args[1]))
	return c.stream(cmd.Context(), path, body, func(event string, data json.RawMessage) error {
		switch event {
		case "chunk":
			var ch chunkPayload
			if err := json.Unmarshal(data, &ch); err == nil {
				fmt.Fprint(out, ch.Text)
			}
		case "verdict":
			var v verdictPayload
			if err := json.Unmarshal(data, &v); err != nil {
				return fmt.Errorf("parse verdict: %w", err)
			}
			fmt.Fprintln(out)
			printVerdict(out, &v)
		case "error":
			return eventError(data)
		}
		return nil
	})
}

func printVerdict(w io.Writer, v *verdictPayload) {
	if v.Verdict == nil {
		return
	}
	status := "NOT YET"
	if v.Verdict.Success {
		status = "PASSED"
	}
	fmt.Fprintf(w, "[%s] %s: %s\n", status, v.MissionID, v.Verdict.Feedback)
	if v.Award > 0 {
		fmt.Fprintf(w, "+%d points (total %d)\n", v.Award, v.TotalScore)
	}
	for _, s := range v.Verdict.Suggestions {
		fmt.Fprintf(w, "  - %s\n", s)
	}
}

func readSource(name string) (string, error) {
	var data []byte
	var err error
	if name == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("read code: %w", err)
	}
	return string(data), nil
}

func runSync(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd, true)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	path := fmt.Sprintf("/v1/progress/%s/sync", url.PathEscape(args[0]))

	if async, _ := cmd.Flags().GetBool("async"); async {
		var queued struct {
			JobID  string `json:"jobId"`
			Status string `json:"status"`
		}
		if err := c.do(cmd.Context(), http.MethodPost, path+"?async=true", nil, &queued); err != nil {
			return err
		}
		fmt.Fprintf(out, "Sync %s (job %s)\n", queued.Status, queued.JobID)
		return nil
	}

	return c.stream(cmd.Context(), path, nil, func(event string, data json.RawMessage) error {
		switch event {
		case "active":
			var ch chunkPayload
			if err := json.Unmarshal(data, &ch); err == nil {
				fmt.Fprintf(out, "\n== %s ==\n", ch.MissionID)
			}
		case "chunk":
			var ch chunkPayload
			if err := json.Unmarshal(data, &ch); err == nil {
				fmt.Fprint(out, ch.Text)
			}
		case "verdict":
			var v verdictPayload
			if err := json.Unmarshal(data, &v); err != nil {
				return fmt.Errorf("parse verdict: %w", err)
			}
			fmt.Fprintln(out)
			printVerdict(out, &v)
		case "done":
			var report batchsync.Report
			if err := json.Unmarshal(data, &report); err != nil {
				return fmt.Errorf("parse report: %w", err)
			}
			printReport(out, &report)
		case "error":
			return eventError(data)
		}
		return nil
	})
}

func printReport(w io.Writer, r *batchsync.Report) {
	fmt.Fprintln(w)
	if r.Staged == 0 {
		fmt.Fprintln(w, "Nothing staged.")
		return
	}
	passed := make([]string, 0, len(r.Evaluated))
	for _, s := range r.Evaluated {
		if s.Success {
			passed = append(passed, s.MissionID)
		}
	}
	fmt.Fprintf(w, "Evaluated %d of %d staged, %d passed", len(r.Evaluated), r.Staged, len(passed))
	if len(passed) > 0 {
		fmt.Fprintf(w, " (%s)", strings.Join(passed, ", "))
	}
	fmt.Fprintln(w)
	if !r.Complete && r.StoppedAt != "" {
		fmt.Fprintf(w, "Stopped at %s: %s\n", r.StoppedAt, r.Reason)
	}
}
