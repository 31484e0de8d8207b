package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/config"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/roster"
)

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Role      string    `json:"role"`
	UserID    string    `json:"userId"`
}

var loginCmd = &cobra.Command{
	Use:   "login [email]",
	Short: "Sign in and save the session",
	Long: `Sign in as a teacher or student with email and password, or as a class
observer with --academy and --ta-key.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved session",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := config.GuildDir()
		if err != nil {
			return err
		}
		if err := os.Remove(filepath.Join(dir, "credentials.yaml")); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that the server is up",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd, false)
		if err != nil {
			return err
		}
		var health struct {
			Status string `json:"status"`
			Time   string `json:"time"`
		}
		if err := c.do(cmd.Context(), http.MethodGet, "/v1/health", nil, &health); err != nil {
			return fmt.Errorf("guildd at %s is not reachable: %w", c.base, err)
		}
		fmt.Printf("guildd at %s: %s (%s)\n", c.base, health.Status, health.Time)
		return nil
	},
}

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the signed-in account",
	RunE:  runMe,
}

func init() {
	loginCmd.Flags().String("academy", "", "Academy (class) code for observer sign-in")
	loginCmd.Flags().String("ta-key", "", "TA key for observer sign-in")
}

func runLogin(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd, false)
	if err != nil {
		return err
	}
	c.token = ""

	academy, _ := cmd.Flags().GetString("academy")
	taKey, _ := cmd.Flags().GetString("ta-key")

	var path string
	var body any
	if academy != "" || taKey != "" {
		path = "/v1/auth/observer"
		body = map[string]string{"academyCode": academy, "taKey": taKey}
	} else {
		email := ""
		if len(args) > 0 {
			email = args[0]
		} else if email, err = prompt("Email: "); err != nil {
			return err
		}
		password, err := readPassword("Password: ")
		if err != nil {
			return err
		}
		path = "/v1/auth/login"
		body = map[string]string{"email": email, "password": password}
	}

	var tok tokenResponse
	if err := c.do(cmd.Context(), http.MethodPost, path, body, &tok); err != nil {
		return err
	}
	if err := config.SaveCredentials(&config.Credentials{
		Server:    c.base,
		Token:     tok.Token,
		Role:      tok.Role,
		UserID:    tok.UserID,
		ExpiresAt: expiry(tok.ExpiresAt),
	}); err != nil {
		return err
	}
	fmt.Printf("Signed in as %s (%s).\n", tok.UserID, tok.Role)
	if tok.Role == "student_pending" {
		fmt.Println("Your enrollment is waiting for teacher approval. Sign in again once approved.")
	}
	return nil
}

func prompt(label string) (string, error) {
	fmt.Print(label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads without echo on a terminal and falls back to a plain
// line when stdin is piped.
func readPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt("")
	}
	fmt.Print(label)
	b, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

func runMe(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd, true)
	if err != nil {
		return err
	}
	var me struct {
		Role    string          `json:"role"`
		UserID  string          `json:"userId"`
		Name    string          `json:"name"`
		Profile json.RawMessage `json:"profile"`
	}
	if err := c.do(cmd.Context(), http.MethodGet, "/v1/me", nil, &me); err != nil {
		return err
	}
	fmt.Printf("%s (%s) %s\n", me.Name, me.Role, me.UserID)

	if !strings.HasPrefix(me.Role, "student") || len(me.Profile) == 0 {
		return nil
	}
	var p roster.Profile
	if err := json.Unmarshal(me.Profile, &p); err != nil {
		return fmt.Errorf("parse profile: %w", err)
	}
	fmt.Printf("Level %d, %d XP\n", p.Level, p.GlobalXP)
	langs := make([]string, 0, len(p.LanguageMastery))
	for lang := range p.LanguageMastery {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		fmt.Printf("  %-12s %d XP\n", lang, p.LanguageMastery[lang])
	}
	if len(p.UnlockedSets) > 0 {
		fmt.Printf("Unlocked: %s\n", strings.Join(p.UnlockedSets, ", "))
	}
	if len(p.CompletedCatalogs) > 0 {
		fmt.Printf("Completed: %s\n", strings.Join(p.CompletedCatalogs, ", "))
	}
	return nil
}
