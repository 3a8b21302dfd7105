package cli

import (
	"fmt"
	"log/slog"

	"brickflow/internal/brick"
	"brickflow/internal/config"
	"brickflow/internal/dag"
)

// loadGraph composes the experiment at path and compiles its graph.
//
// Templates come from the configured template directories first, then from
// the experiment file itself. Defaults come from the user override when it
// exists, otherwise from the configured defaults file.
func loadGraph(cfg *config.Config, path string, log *slog.Logger) (*brick.ExperimentFile, *dag.Graph, error) {
	f, err := brick.LoadExperimentFile(path)
	if err != nil {
		return nil, nil, err
	}

	reg := brick.NewRegistry()
	for _, dir := range cfg.TemplateDirs {
		templates, err := brick.LoadTemplateDir(dir)
		if err != nil {
			return f, nil, err
		}
		if err := reg.Register(templates...); err != nil {
			return f, nil, fmt.Errorf("%s: %w", dir, err)
		}
		log.Debug("templates loaded", "dir", dir, "count", len(templates))
	}

	defaults, err := brick.LoadDefaults(brick.DefaultsFile(cfg.DefaultsFile))
	if err != nil {
		return f, nil, err
	}
	if p := defaults.Path(); p != "" {
		log.Debug("defaults loaded", "path", p)
	}

	root, err := brick.ComposeFile(f, reg, defaults)
	if err != nil {
		return f, nil, err
	}
	g, err := dag.Compile(root)
	if err != nil {
		return f, nil, err
	}
	log.Debug("graph compiled", "experiment", root.ID, "nodes", g.Len(), "hash", string(g.Hash()))
	return f, g, nil
}
