package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"brickflow/internal/config"
	"brickflow/internal/core"
	"brickflow/internal/dag"
	"brickflow/internal/state"
	"brickflow/internal/trace"
	"brickflow/internal/work"
	"brickflow/internal/workspace"
)

// Options carries the process boundary into Execute.
type Options struct {
	Stdout io.Writer
	Stderr io.Writer

	// LookupEnv reads the environment for configuration and for the
	// commands' base environment. Nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)

	// Work replaces the shell callback. Nil runs each node's declared command.
	Work dag.Work
}

func (o Options) stdout() io.Writer {
	if o.Stdout == nil {
		return io.Discard
	}
	return o.Stdout
}

func (o Options) stderr() io.Writer {
	if o.Stderr == nil {
		return io.Discard
	}
	return o.Stderr
}

func (o Options) lookupEnv() func(string) (string, bool) {
	if o.LookupEnv == nil {
		return os.LookupEnv
	}
	return o.LookupEnv
}

type CLIResult struct {
	ExitCode int
	RunID    string
	Run      *dag.RunResult
	Plan     []dag.PlanEntry
}

// baseEnvKeys are the host variables node commands can see.
var baseEnvKeys = []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "TMPDIR", "TZ"}

// Execute maps a canonical Invocation to engine execution.
//
// Responsibilities:
//   - Load configuration and apply flag overrides.
//   - Compose and compile the experiment's graph.
//   - Wire workspace, caches, record store, work callback and trace.
//   - Record run and failure reports for the run command.
//   - Translate engine outcomes to semantic exit codes.
func Execute(ctx context.Context, inv Invocation, opts Options) (res CLIResult, execErr error) {
	res.ExitCode = ExitInternalError
	log := newLogger(opts.stderr(), inv.LogLevel, inv.LogFormat)

	cfg, err := loadConfig(inv, opts.lookupEnv())
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	store, err := state.NewStore(cfg.WorkRoot)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	ledger := &state.Ledger{Store: store}

	f, g, err := loadGraph(cfg, inv.Experiment, log)
	if err != nil {
		res.ExitCode = ExitConfigError
		if inv.Command == CommandRun && f != nil {
			if run, lerr := ledger.Reject(f.Experiment.Name, err); lerr != nil {
				log.Warn("recording rejected run failed", "error", lerr)
			} else {
				res.RunID = run.RunID
			}
		}
		return res, err
	}

	rep := newReporter(opts.stdout())
	if inv.Command == CommandGraph {
		rep.renderGraph(g)
		res.ExitCode = ExitSuccess
		return res, nil
	}

	exec, err := buildExecutor(cfg, g, store, opts, log)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}

	defer func() {
		if r := recover(); r != nil {
			res.ExitCode = ExitInternalError
			res.Run = nil
			execErr = fmt.Errorf("panic: %v", r)
		}
	}()

	if inv.Command == CommandPlan {
		entries, err := exec.Plan(ctx, g)
		if err != nil {
			return res, err
		}
		res.Plan = entries
		rep.renderPlan(entries)
		res.ExitCode = ExitSuccess
		for _, e := range entries {
			if e.Err != nil {
				res.ExitCode = ExitNodeFailure
			}
		}
		return res, nil
	}

	run, err := ledger.Begin(g.Root().ID, g.Hash(), exec.Jobs, exec.KeepGoing)
	if err != nil {
		return res, fmt.Errorf("opening run ledger: %w", err)
	}
	res.RunID = run.RunID
	recorder := trace.NewRecorder()
	exec.Trace = recorder

	runRes, err := exec.Run(ctx, g)
	if err != nil {
		if aerr := ledger.Abort(run, err); aerr != nil {
			log.Warn("recording aborted run failed", "run", run.RunID, "error", aerr)
		}
		return res, err
	}
	res.Run = runRes

	traceHash, err := writeTrace(recorder, inv.TracePath, g.Hash())
	if err != nil {
		log.Warn("writing trace failed", "path", inv.TracePath, "error", err)
	}
	if _, err := ledger.Finish(run, runRes, traceHash); err != nil {
		log.Warn("recording run failed", "run", run.RunID, "error", err)
	}

	rep.renderRun(runRes, run.RunID)
	res.ExitCode = ExitSuccess
	if runRes.Failed() {
		res.ExitCode = ExitNodeFailure
	}
	return res, nil
}

// loadConfig layers flag overrides on the file and environment configuration.
func loadConfig(inv Invocation, lookup func(string) (string, bool)) (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		Dir:       inv.Dir,
		File:      inv.ConfigFile,
		EnvFile:   inv.EnvFile,
		LookupEnv: lookup,
	})
	if err != nil {
		return nil, err
	}
	if inv.WorkRoot != "" {
		cfg.WorkRoot = inv.WorkRoot
	}
	if inv.CacheDir != "" {
		cfg.CacheDir = inv.CacheDir
	}
	if inv.Linker != "" {
		cfg.Linker = inv.Linker
	}
	if inv.Compression != "" {
		cfg.Compression = inv.Compression
	}
	if inv.Jobs != nil {
		cfg.Jobs = *inv.Jobs
	}
	if inv.KeepGoing != nil {
		cfg.KeepGoing = *inv.KeepGoing
	}
	if !filepath.IsAbs(cfg.WorkRoot) {
		cfg.WorkRoot = filepath.Join(inv.Dir, cfg.WorkRoot)
	}
	if cfg.CacheDir != "" && !filepath.IsAbs(cfg.CacheDir) {
		cfg.CacheDir = filepath.Join(inv.Dir, cfg.CacheDir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildExecutor(cfg *config.Config, g *dag.Graph, store *state.Store, opts Options, log *slog.Logger) (*dag.Executor, error) {
	linker, err := workspace.ParseLinker(cfg.Linker)
	if err != nil {
		return nil, err
	}
	cache, err := buildCache(cfg, log)
	if err != nil {
		return nil, err
	}
	w := opts.Work
	if w == nil {
		shell, err := buildShell(g, opts.lookupEnv(), log)
		if err != nil {
			return nil, err
		}
		w = shell
	}

	return &dag.Executor{
		Work:      w,
		Workspace: workspace.New(cfg.WorkRoot, linker),
		Records:   store.Records(),
		Cache:     cache,
		Jobs:      cfg.Jobs,
		KeepGoing: cfg.KeepGoing,
		Logger:    log,
	}, nil
}

// buildCache returns the local file cache, fronting the object store when a
// remote tier is configured.
func buildCache(cfg *config.Config, log *slog.Logger) (core.ContentCache, error) {
	comp, err := core.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	local := core.NewFileCache(cfg.CacheRoot())
	local.Compression = comp
	local.Logger = log
	if !cfg.RemoteCache.Enabled() {
		return local, nil
	}

	ocfg, err := cfg.ObjectCacheConfig()
	if err != nil {
		return nil, err
	}
	remote, err := core.NewObjectCache(ocfg)
	if err != nil {
		return nil, err
	}
	remote.Logger = log
	log.Debug("remote cache enabled", "endpoint", ocfg.Endpoint, "bucket", ocfg.Bucket)
	return &core.TieredCache{Local: local, Remote: remote, Logger: log}, nil
}

// buildShell registers every node's command with its configuration exported
// as BRICK_CFG_* variables.
func buildShell(g *dag.Graph, lookup func(string) (string, bool), log *slog.Logger) (*work.Shell, error) {
	base := make(map[string]string, len(baseEnvKeys))
	for _, k := range baseEnvKeys {
		if v, ok := lookup(k); ok {
			base[k] = v
		}
	}
	shell := work.NewShell(base)
	shell.Logger = log
	for _, s := range g.Steps() {
		env, err := work.ConfigEnv(s.Node.Config)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.ID(), err)
		}
		shell.Register(s.ID(), work.Command{Run: s.Node.Run, Env: env})
	}
	return shell, nil
}

// writeTrace writes the canonical trace when path is set and returns its
// hash either way.
func writeTrace(rec *trace.Recorder, path string, graphHash dag.GraphHash) (string, error) {
	if strings.TrimSpace(path) == "" {
		return rec.Trace(string(graphHash)).Hash()
	}
	return rec.WriteFile(path, string(graphHash))
}
