// Package config loads run configuration.
//
// Sources, lowest precedence first: built-in defaults, the YAML file
// (brickflow.yaml in the base directory unless a path is given), the .env
// file, the process environment (BRICKFLOW_*). Command-line flags are
// applied by the caller on top and checked with Validate.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"brickflow/internal/core"
	"brickflow/internal/workspace"
)

const (
	// FileName is the configuration file looked up in the base directory.
	FileName = "brickflow.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "BRICKFLOW_"
)

type Config struct {
	WorkRoot     string            `yaml:"work_root"`
	CacheDir     string            `yaml:"cache_dir"`
	Jobs         int               `yaml:"jobs"`
	KeepGoing    bool              `yaml:"keep_going"`
	Linker       string            `yaml:"linker"`
	Compression  string            `yaml:"compression"`
	DefaultsFile string            `yaml:"defaults_file"`
	TemplateDirs []string          `yaml:"template_dirs"`
	RemoteCache  RemoteCacheConfig `yaml:"remote_cache"`

	// Path is the configuration file that was read, if any.
	Path string `yaml:"-"`
}

// RemoteCacheConfig enables the object-storage cache tier when Endpoint is set.
type RemoteCacheConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// Enabled reports whether a remote tier is configured.
func (r RemoteCacheConfig) Enabled() bool {
	return strings.TrimSpace(r.Endpoint) != ""
}

// Options says where to look for configuration.
type Options struct {
	// Dir is the base directory. Relative paths in the file resolve against
	// the file's directory; relative defaults resolve against Dir.
	Dir string

	// File is an explicit configuration file; it must exist.
	File string

	// EnvFile is an explicit .env file; it must exist. Empty means Dir/.env
	// when present.
	EnvFile string

	// LookupEnv reads the process environment. Nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Default returns the built-in configuration rooted at dir.
func Default(dir string) *Config {
	return &Config{
		WorkRoot:    dir,
		Jobs:        runtime.NumCPU(),
		Linker:      "symlink",
		Compression: "zstd",
	}
}

// Load assembles the configuration from every source and validates it.
func Load(opts Options) (*Config, error) {
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	c := Default(dir)

	path, required := opts.File, true
	if path == "" {
		path, required = filepath.Join(dir, FileName), false
	}
	if err := c.readFile(path, required); err != nil {
		return nil, err
	}

	lookup, err := envLookup(opts, dir)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) readFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	prevRoot := c.WorkRoot
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	c.Path = path

	base := filepath.Dir(path)
	if c.WorkRoot != prevRoot {
		c.WorkRoot = resolve(base, c.WorkRoot)
	}
	c.CacheDir = resolve(base, c.CacheDir)
	c.DefaultsFile = resolve(base, c.DefaultsFile)
	for i, d := range c.TemplateDirs {
		c.TemplateDirs[i] = resolve(base, d)
	}
	return nil
}

// envLookup layers the process environment over the .env file.
func envLookup(opts Options, dir string) (func(string) (string, bool), error) {
	process := opts.LookupEnv
	if process == nil {
		process = os.LookupEnv
	}

	path, required := opts.EnvFile, true
	if path == "" {
		path, required = filepath.Join(dir, ".env"), false
	}
	dotenv, err := godotenv.Read(path)
	if err != nil {
		if required || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read env file %s: %w", path, err)
		}
		dotenv = nil
	}
	return func(key string) (string, bool) {
		if v, ok := process(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("WORK_ROOT", &c.WorkRoot)
	str("CACHE_DIR", &c.CacheDir)
	str("LINKER", &c.Linker)
	str("COMPRESSION", &c.Compression)
	str("DEFAULTS_FILE", &c.DefaultsFile)
	if v, ok := lookup(EnvPrefix + "TEMPLATE_DIRS"); ok {
		c.TemplateDirs = filepath.SplitList(v)
	}
	if v, ok := lookup(EnvPrefix + "JOBS"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sJOBS: %w", EnvPrefix, err)
		}
		c.Jobs = n
	}
	if err := boolean("KEEP_GOING", &c.KeepGoing); err != nil {
		return err
	}

	r := &c.RemoteCache
	str("REMOTE_ENDPOINT", &r.Endpoint)
	str("REMOTE_BUCKET", &r.Bucket)
	str("REMOTE_REGION", &r.Region)
	str("REMOTE_ACCESS_KEY", &r.AccessKey)
	str("REMOTE_SECRET_KEY", &r.SecretKey)
	str("REMOTE_PREFIX", &r.Prefix)
	return boolean("REMOTE_USE_SSL", &r.UseSSL)
}

// Validate checks values that only fail at use time otherwise.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.WorkRoot) == "" {
		errs = append(errs, errors.New("work_root is required"))
	}
	if c.Jobs < 1 {
		errs = append(errs, fmt.Errorf("jobs must be >= 1, got %d", c.Jobs))
	}
	if _, err := workspace.ParseLinker(c.Linker); err != nil {
		errs = append(errs, err)
	}
	if _, err := core.ParseCompression(c.Compression); err != nil {
		errs = append(errs, err)
	}
	if r := c.RemoteCache; r.Enabled() {
		if strings.TrimSpace(r.Bucket) == "" {
			errs = append(errs, errors.New("remote_cache.bucket is required with an endpoint"))
		}
		if strings.TrimSpace(r.AccessKey) == "" || strings.TrimSpace(r.SecretKey) == "" {
			errs = append(errs, errors.New("remote_cache.access_key and secret_key are required with an endpoint"))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// CacheRoot returns the local cache directory, defaulting to
// <work_root>/.brickflow/cache.
func (c *Config) CacheRoot() string {
	if strings.TrimSpace(c.CacheDir) != "" {
		return c.CacheDir
	}
	return filepath.Join(c.WorkRoot, ".brickflow", "cache")
}

// ObjectCacheConfig maps the remote settings onto the cache tier's options.
func (c *Config) ObjectCacheConfig() (core.ObjectCacheConfig, error) {
	comp, err := core.ParseCompression(c.Compression)
	if err != nil {
		return core.ObjectCacheConfig{}, err
	}
	r := c.RemoteCache
	return core.ObjectCacheConfig{
		Endpoint:    r.Endpoint,
		Region:      r.Region,
		AccessKey:   r.AccessKey,
		SecretKey:   r.SecretKey,
		Bucket:      r.Bucket,
		Prefix:      r.Prefix,
		UseSSL:      r.UseSSL,
		Compression: comp,
	}, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
