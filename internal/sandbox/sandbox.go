// Package sandbox runs a submission once in a throwaway container so its
// output can be shown to the tutor alongside the code.
package sandbox

import (
	"errors"
	"strings"
	"time"
)

// Result holds the output from a trial run.
type Result struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

// Config holds container limits for trial runs.
type Config struct {
	MemoryMB      int           `json:"memory_mb"`
	CPULimit      float64       `json:"cpu_limit"`
	NetworkOff    bool          `json:"network_off"`
	Timeout       time.Duration `json:"timeout"`
	MaxConcurrent int           `json:"max_concurrent"`
	MaxOutput     int           `json:"max_output"` // bytes kept per stream
	Images        map[string]string
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		MemoryMB:      256,
		CPULimit:      0.5,
		NetworkOff:    true,
		Timeout:       10 * time.Second,
		MaxConcurrent: 4,
		MaxOutput:     4096,
	}
}

// Toolchain describes how to run one language.
type Toolchain struct {
	Image    string
	FileName string
	Cmd      []string
}

var toolchains = map[string]Toolchain{
	"python":     {Image: "python:3.12-alpine", FileName: "main.py", Cmd: []string{"python", "main.py"}},
	"javascript": {Image: "node:20-alpine", FileName: "main.js", Cmd: []string{"node", "main.js"}},
	"typescript": {Image: "denoland/deno:alpine", FileName: "main.ts", Cmd: []string{"deno", "run", "--no-remote", "main.ts"}},
	"java":       {Image: "eclipse-temurin:21-jdk-alpine", FileName: "Main.java", Cmd: []string{"java", "Main.java"}},
	"c++":        {Image: "gcc:13", FileName: "main.cpp", Cmd: []string{"sh", "-c", "g++ -O0 -o /tmp/main main.cpp && /tmp/main"}},
	"ruby":       {Image: "ruby:3.3-alpine", FileName: "main.rb", Cmd: []string{"ruby", "main.rb"}},
}

// ToolchainFor resolves a catalog language, case-insensitively. An image
// override from cfg replaces the default image.
func ToolchainFor(language string, cfg Config) (Toolchain, error) {
	key := strings.ToLower(strings.TrimSpace(language))
	tc, ok := toolchains[key]
	if !ok {
		return Toolchain{}, ErrUnsupportedLanguage
	}
	if img, ok := cfg.Images[key]; ok && img != "" {
		tc.Image = img
	}
	return tc, nil
}

var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrDisabled            = errors.New("trial runner disabled")
)
