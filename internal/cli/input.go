package cli

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
)

const (
	ExitSuccess           = 0
	ExitNodeFailure       = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// Command selects what an invocation does with the compiled graph.
type Command string

const (
	CommandRun   Command = "run"
	CommandPlan  Command = "plan"
	CommandGraph Command = "graph"
)

// Invocation is the canonical description of one CLI call.
//
// Every path is cleaned and absolute; relative arguments are resolved
// against Dir, never against the process working directory. Override
// fields are nil or empty when the flag was not given, so that lower
// configuration layers keep their values.
type Invocation struct {
	Command    Command
	Experiment string
	Dir        string

	ConfigFile string
	EnvFile    string
	TracePath  string
	LogLevel   string
	LogFormat  string

	WorkRoot    string
	CacheDir    string
	Linker      string
	Compression string
	Jobs        *int
	KeepGoing   *bool
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// Usage is printed for invocation errors.
const Usage = `usage: brickflow <run|plan|graph> [flags] <experiment.yaml>

flags:
  -c, --config path        configuration file (default <dir>/brickflow.yaml)
      --env-file path      .env file (default <dir>/.env when present)
      --work-root path     directory holding brick directories and state
      --cache-dir path     local cache directory
  -j, --jobs n             concurrent nodes
  -k, --keep-going         keep running independent nodes after a failure
      --linker kind        symlink or copy
      --compression kind   zstd, lz4 or none
      --trace path         write the canonical execution trace
      --log-level level    debug, info, warn or error
      --log-format format  text or json`

// ParseInvocation parses args (without the program name) into an
// Invocation. dir must be absolute.
func ParseInvocation(args []string, dir string) (Invocation, error) {
	fs := pflag.NewFlagSet("brickflow", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false

	var inv Invocation
	var jobs int
	var keepGoing bool
	fs.StringVarP(&inv.ConfigFile, "config", "c", "", "")
	fs.StringVar(&inv.EnvFile, "env-file", "", "")
	fs.StringVar(&inv.WorkRoot, "work-root", "", "")
	fs.StringVar(&inv.CacheDir, "cache-dir", "", "")
	fs.IntVarP(&jobs, "jobs", "j", 0, "")
	fs.BoolVarP(&keepGoing, "keep-going", "k", false, "")
	fs.StringVar(&inv.Linker, "linker", "", "")
	fs.StringVar(&inv.Compression, "compression", "", "")
	fs.StringVar(&inv.TracePath, "trace", "", "")
	fs.StringVar(&inv.LogLevel, "log-level", "info", "")
	fs.StringVar(&inv.LogFormat, "log-format", "text", "")

	if err := fs.Parse(args); err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}

	dir = filepath.Clean(dir)
	if !filepath.IsAbs(dir) {
		return Invocation{}, invalidInvocationf("working directory must be absolute (got %q)", dir)
	}
	inv.Dir = dir

	rest := fs.Args()
	if len(rest) == 0 {
		return Invocation{}, invalidInvocationf("a command is required")
	}
	switch Command(rest[0]) {
	case CommandRun, CommandPlan, CommandGraph:
		inv.Command = Command(rest[0])
	default:
		return Invocation{}, invalidInvocationf("unknown command %q (expected run|plan|graph)", rest[0])
	}
	switch len(rest) {
	case 1:
		return Invocation{}, invalidInvocationf("%s: an experiment file is required", inv.Command)
	case 2:
	default:
		return Invocation{}, invalidInvocationf("unexpected positional arguments: %q", strings.Join(rest[2:], " "))
	}

	if fs.Changed("jobs") {
		if jobs < 1 {
			return Invocation{}, invalidInvocationf("--jobs must be >= 1 (got %d)", jobs)
		}
		inv.Jobs = &jobs
	}
	if fs.Changed("keep-going") {
		inv.KeepGoing = &keepGoing
	}
	if err := parseLogFlags(inv.LogLevel, inv.LogFormat); err != nil {
		return Invocation{}, err
	}

	var err error
	if inv.Experiment, err = resolveUnderDir(dir, rest[1]); err != nil {
		return Invocation{}, err
	}
	for _, p := range []*string{&inv.ConfigFile, &inv.EnvFile, &inv.WorkRoot, &inv.CacheDir, &inv.TracePath} {
		if *p == "" {
			continue
		}
		if *p, err = resolveUnderDir(dir, *p); err != nil {
			return Invocation{}, err
		}
	}
	return inv, nil
}

func resolveUnderDir(dir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", invalidInvocationf("path must not be empty")
	}
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	return filepath.Join(dir, clean), nil
}

// ExitCode extracts a semantic exit code from a ParseInvocation error.
// If the error is not a known invocation error, it returns ExitInternalError.
func ExitCode(err error) int {
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	if err == nil {
		return ExitSuccess
	}
	return ExitInternalError
}
