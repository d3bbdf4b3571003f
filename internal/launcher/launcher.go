// Package launcher resolves external agent CLI binaries and builds
// ready-to-spawn commands for them: binary override handling, PATH
// augmentation for common install locations, per-tool flags, and a
// bounded-time installation check.
package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/N3RDMJ/Agentmonitor/internal/errors"
)

// InstallCheckTimeout bounds the `--version` installation probe.
const InstallCheckTimeout = 5 * time.Second

// Tool identifies an external agent CLI.
type Tool string

// Supported external tools.
const (
	ToolGemini Tool = "gemini"
	ToolCursor Tool = "cursor"
	ToolClaude Tool = "claude"
)

// DisplayName returns the user-facing name used in error messages.
func (t Tool) DisplayName() string {
	switch t {
	case ToolCursor:
		return "Cursor"
	case ToolClaude:
		return "Claude Code"
	case ToolGemini:
		return "Gemini"
	default:
		return string(t)
	}
}

// Binary returns the default executable name for the tool.
func (t Tool) Binary() string {
	return string(t)
}

// homeBin returns the tool-specific install directory under $HOME.
func (t Tool) homeBin(home string) []string {
	switch t {
	case ToolCursor:
		return []string{filepath.Join(home, ".cursor/bin")}
	case ToolClaude:
		return []string{filepath.Join(home, ".claude/bin")}
	case ToolGemini:
		return []string{filepath.Join(home, "google-cloud-sdk/bin")}
	default:
		return nil
	}
}

// CursorSettings holds the Cursor CLI flags applied at spawn.
type CursorSettings struct {
	VimMode          bool
	DefaultMode      string
	OutputFormat     string
	AttributeCommits bool
	AttributePRs     bool
	UseHTTP1         bool
}

// DefaultCursorSettings returns the settings new workspaces start with.
func DefaultCursorSettings() CursorSettings {
	return CursorSettings{
		DefaultMode:  "agent",
		OutputFormat: "stream-json",
	}
}

func (s CursorSettings) flags() []string {
	args := make([]string, 0, 8)

	if s.DefaultMode != "" {
		args = append(args, "--mode", s.DefaultMode)
	}

	if s.OutputFormat != "" {
		args = append(args, "--output-format", s.OutputFormat)
	}

	if s.VimMode {
		args = append(args, "--vim")
	}

	if s.AttributeCommits {
		args = append(args, "--attribute-commits")
	}

	if s.AttributePRs {
		args = append(args, "--attribute-prs")
	}

	if s.UseHTTP1 {
		args = append(args, "--use-http1")
	}

	return args
}

// Config describes how to launch one tool.
type Config struct {
	Tool Tool

	// Bin overrides the executable; empty means the tool's default name
	// resolved against the augmented PATH.
	Bin string

	// ExtraArgs is a shell-style argument string appended to the command.
	ExtraArgs string

	// Home, when set, is exported as the tool's home directory variable
	// (GEMINI_HOME, CLAUDE_HOME).
	Home string

	Cursor CursorSettings
}

// Binary returns the effective executable for the config.
func (c Config) Binary() string {
	if bin := strings.TrimSpace(c.Bin); bin != "" {
		return bin
	}

	return c.Tool.Binary()
}

// PathEnv builds a PATH value covering the common install locations of
// agent CLIs: homebrew, system bins, ~/.local/bin, mise shims, cargo,
// bun, every nvm node version, the tool's own install dir, and the
// directory of an explicit binary override.
func PathEnv(tool Tool, binOverride string) string {
	paths := make([]string, 0, 16)

	for _, p := range strings.Split(os.Getenv("PATH"), string(os.PathListSeparator)) {
		if p != "" && !contains(paths, p) {
			paths = append(paths, p)
		}
	}

	extras := []string{
		"/opt/homebrew/bin",
		"/usr/local/bin",
		"/usr/bin",
		"/bin",
		"/usr/sbin",
		"/sbin",
	}

	if home, err := os.UserHomeDir(); err == nil {
		extras = append(extras,
			filepath.Join(home, ".local/bin"),
			filepath.Join(home, ".local/share/mise/shims"),
			filepath.Join(home, ".cargo/bin"),
			filepath.Join(home, ".bun/bin"),
		)
		extras = append(extras, tool.homeBin(home)...)

		// nvm installs each node version under its own bin directory.
		nvmRoot := filepath.Join(home, ".nvm/versions/node")
		if entries, err := os.ReadDir(nvmRoot); err == nil {
			for _, entry := range entries {
				binPath := filepath.Join(nvmRoot, entry.Name(), "bin")
				if info, err := os.Stat(binPath); err == nil && info.IsDir() {
					extras = append(extras, binPath)
				}
			}
		}
	}

	if bin := strings.TrimSpace(binOverride); bin != "" {
		if parent := filepath.Dir(bin); parent != "" && parent != "." {
			extras = append(extras, parent)
		}
	}

	for _, extra := range extras {
		if !contains(paths, extra) {
			paths = append(paths, extra)
		}
	}

	return strings.Join(paths, string(os.PathListSeparator))
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}

	return false
}

// Environ returns the process environment with PATH replaced by the
// tool-augmented value and the tool home variable appended when set.
func Environ(cfg Config) []string {
	env := make([]string, 0, len(os.Environ())+2)

	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "PATH=") {
			continue
		}

		env = append(env, kv)
	}

	env = append(env, "PATH="+PathEnv(cfg.Tool, cfg.Bin))

	if cfg.Home != "" {
		switch cfg.Tool {
		case ToolGemini:
			env = append(env, "GEMINI_HOME="+cfg.Home)
		case ToolClaude:
			env = append(env, "CLAUDE_HOME="+cfg.Home)
		case ToolCursor:
		}
	}

	return env
}

// SplitArgs splits a shell-style argument string.
func SplitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}

	parsed, err := shlex.Split(args)
	if err != nil {
		return nil, fmt.Errorf("invalid %q: %w", args, err)
	}

	return parsed, nil
}

// Command builds the ready-to-spawn command for a canonical-protocol
// session with the tool: per-tool flags, extra arguments, working
// directory, augmented environment, and the tool's sandbox mode where it
// has one. The command is not started.
func Command(cfg Config, cwd string) (*exec.Cmd, error) {
	args := make([]string, 0, 12)

	if cfg.Tool == ToolCursor {
		args = append(args, cfg.Cursor.flags()...)
	}

	extra, err := SplitArgs(cfg.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("%s args: %w", cfg.Tool, err)
	}

	args = append(args, extra...)

	// Gemini and Claude Code both expose a sandboxed canonical-protocol
	// mode under this subcommand.
	if cfg.Tool == ToolGemini || cfg.Tool == ToolClaude {
		args = append(args, "sandbox")
	}

	cmd := exec.Command(cfg.Binary(), args...)
	cmd.Dir = cwd
	cmd.Env = Environ(cfg)

	return cmd, nil
}

// CheckInstallation verifies the tool starts at all by running
// `<binary> --version` with a bounded timeout. Returns the reported
// version string, which may be empty.
func CheckInstallation(ctx context.Context, cfg Config) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, InstallCheckTimeout)
	defer cancel()

	bin := cfg.Binary()

	cmd := exec.CommandContext(ctx, bin, "--version")
	cmd.Env = Environ(cfg)

	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", &errors.InstallCheckError{
				Tool:   cfg.Tool.DisplayName(),
				Binary: bin,
				Detail: "timed out while checking the installation",
			}
		}

		if execErr, ok := err.(*exec.Error); ok && execErr.Err == exec.ErrNotFound {
			return "", &errors.ToolNotFoundError{Tool: cfg.Tool.DisplayName(), Binary: bin}
		}

		detail := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			detail = strings.TrimSpace(string(exitErr.Stderr))
		}

		return "", &errors.InstallCheckError{
			Tool:   cfg.Tool.DisplayName(),
			Binary: bin,
			Detail: detail,
		}
	}

	return strings.TrimSpace(string(output)), nil
}
