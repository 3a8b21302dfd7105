// Package work runs a brick's declared command as its work callback.
package work

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
)

// LogName is the file in a brick directory that receives the command's
// stdout and stderr.
const LogName = "brick.log"

// Command is the work declared by one brick.
type Command struct {
	// Run is interpreted by "sh -c". An empty Run means the brick has no
	// work of its own and always succeeds.
	Run string

	// Env holds brick-specific variables, added after the base environment.
	Env map[string]string
}

// Shell invokes brick commands with an allowlisted environment.
//
// The environment starts empty. Only BaseEnv, the brick's own Env, and
// BRICK_ID / BRICK_DIR are visible to the command; nothing is inherited
// from the host unless the caller put it in BaseEnv.
type Shell struct {
	BaseEnv map[string]string
	Logger  *slog.Logger

	mu       sync.RWMutex
	commands map[string]Command
}

// NewShell returns a Shell whose commands see base plus their own variables.
func NewShell(base map[string]string) *Shell {
	return &Shell{BaseEnv: base, commands: make(map[string]Command)}
}

// Register declares the command for a brick.
func (s *Shell) Register(nodeID string, cmd Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commands == nil {
		s.commands = make(map[string]Command)
	}
	s.commands[nodeID] = cmd
}

func (s *Shell) command(nodeID string) (Command, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cmd, ok := s.commands[nodeID]
	return cmd, ok
}

func (s *Shell) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s.Logger
}

// Invoke runs the brick's command in dir and returns its exit status.
//
// Output goes to dir/brick.log. A non-nil error means the command could not
// be run at all or was cancelled; a command that ran and failed returns its
// non-zero exit status and a nil error. On cancellation the whole process
// group is killed.
func (s *Shell) Invoke(ctx context.Context, nodeID, dir string) (int, error) {
	cmdDef, ok := s.command(nodeID)
	if !ok {
		return -1, fmt.Errorf("no command registered for %s", nodeID)
	}
	if strings.TrimSpace(cmdDef.Run) == "" {
		return 0, nil
	}

	logFile, err := os.Create(filepath.Join(dir, LogName))
	if err != nil {
		return -1, fmt.Errorf("creating %s: %w", LogName, err)
	}
	defer logFile.Close()

	cmd := exec.Command("sh", "-c", cmdDef.Run)
	cmd.Dir = dir
	cmd.Env = s.environment(nodeID, dir, cmdDef.Env)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to start command: %w", err)
	}
	s.logger().Debug("brick command started", "node", nodeID, "pid", cmd.Process.Pid)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		return -1, fmt.Errorf("execution cancelled: %w", ctx.Err())
	case err = <-done:
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("failed to execute command: %w", err)
	}
	return 0, nil
}

// environment builds the sorted allowlist environment for one invocation.
func (s *Shell) environment(nodeID, dir string, own map[string]string) []string {
	env := make(map[string]string, len(s.BaseEnv)+len(own)+2)
	for k, v := range s.BaseEnv {
		env[k] = v
	}
	for k, v := range own {
		env[k] = v
	}
	env["BRICK_ID"] = nodeID
	env["BRICK_DIR"] = dir

	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// ConfigEnv maps brick configuration to BRICK_CFG_<KEY> variables.
//
// Keys are upper-cased with every character outside [A-Z0-9_] replaced by
// '_'. Scalars are formatted plainly; lists and maps are JSON encoded.
func ConfigEnv(cfg map[string]any) (map[string]string, error) {
	env := make(map[string]string, len(cfg))
	for k, v := range cfg {
		value, err := formatValue(v)
		if err != nil {
			return nil, fmt.Errorf("config key %s: %w", k, err)
		}
		env["BRICK_CFG_"+envName(k)] = value
	}
	return env, nil
}

func envName(key string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(key) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func formatValue(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case bool, int, int64, uint64, float64:
		return fmt.Sprint(x), nil
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}
