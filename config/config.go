// Package config loads the scalar subset of cache.Options from YAML or JSON.
//
// Function-valued options (loaders, listeners, weighers, clocks) cannot be
// described in a file; callers set those in code after Apply.
//
//	spec, err := config.Load("cache.yaml")
//	if err != nil { ... }
//	opt := cache.Options[string, []byte]{Loader: load}
//	if err := config.Apply(spec, &opt); err != nil { ... }
//	c, err := cache.New(opt)
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/IvanBrykalov/loadcache/cache"
	"github.com/IvanBrykalov/loadcache/policy/lru"
	"github.com/IvanBrykalov/loadcache/policy/twoq"
)

// Format names a supported encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

var (
	// ErrEmptyPath is returned by Load for "".
	ErrEmptyPath = errors.New("config: empty config path")

	// ErrUnsupportedFormat is returned for unknown extensions or formats.
	ErrUnsupportedFormat = errors.New("config: unsupported config format")

	// ErrLoadFailed wraps read and parse failures.
	ErrLoadFailed = errors.New("config: failed to load config")

	// ErrUnmarshalFailed wraps decode failures (e.g. a malformed duration).
	ErrUnmarshalFailed = errors.New("config: failed to unmarshal config")

	// ErrUnknownPolicy is returned by Apply for a policy name other than lru or 2q.
	ErrUnknownPolicy = errors.New("config: unknown eviction policy")
)

// Spec mirrors the file-expressible cache.Options fields.
// Durations accept Go duration strings ("90s", "5m").
type Spec struct {
	MaximumSize       int           `koanf:"maximum_size"`
	MaximumWeight     int64         `koanf:"maximum_weight"`
	ExpireAfterWrite  time.Duration `koanf:"expire_after_write"`
	ExpireAfterAccess time.Duration `koanf:"expire_after_access"`
	RefreshAfterWrite time.Duration `koanf:"refresh_after_write"`
	InitialCapacity   int           `koanf:"initial_capacity"`
	Shards            int           `koanf:"shards"`
	CleanupInterval   time.Duration `koanf:"cleanup_interval"`
	UseCallingContext bool          `koanf:"use_calling_context"`

	// Policy is "lru" (default) or "2q".
	Policy string `koanf:"policy"`
	// TwoQ tunes the 2Q queues; zero values mean 25 / 50.
	TwoQ TwoQ `koanf:"two_q"`

	// ExecutorWorkers > 0 asks for a PoolExecutor of that size; see NewExecutor.
	ExecutorWorkers int `koanf:"executor_workers"`
}

// TwoQ holds the 2Q queue percentages.
type TwoQ struct {
	InPct    int `koanf:"in_pct"`
	GhostPct int `koanf:"ghost_pct"`
}

// Load reads path and detects the format from its extension (.yaml/.yml/.json).
func Load(path string) (Spec, error) {
	if path == "" {
		return Spec{}, ErrEmptyPath
	}
	format, err := detectFormat(path)
	if err != nil {
		return Spec{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	return Parse(data, format)
}

// Parse decodes data in the given format. Empty data yields the zero Spec.
func Parse(data []byte, format Format) (Spec, error) {
	parser, err := parserFor(format)
	if err != nil {
		return Spec{}, err
	}
	k := koanf.New(".")
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), parser); err != nil {
			return Spec{}, fmt.Errorf("%w: %w", ErrLoadFailed, err)
		}
	}
	var s Spec
	if err := k.UnmarshalWithConf("", &s, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Spec{}, fmt.Errorf("%w: %w", ErrUnmarshalFailed, err)
	}
	return s, nil
}

// Apply copies s onto opt, leaving code-only fields untouched.
// Values are checked later by cache.New.
func Apply[K comparable, V any](s Spec, opt *cache.Options[K, V]) error {
	switch strings.ToLower(s.Policy) {
	case "", "lru":
		opt.Policy = lru.New[K, V]()
	case "2q", "twoq":
		in, ghost := s.TwoQ.InPct, s.TwoQ.GhostPct
		if in == 0 {
			in = 25
		}
		if ghost == 0 {
			ghost = 50
		}
		opt.Policy = twoq.New[K, V](in, ghost)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPolicy, s.Policy)
	}
	opt.MaximumSize = int64(s.MaximumSize)
	opt.MaximumWeight = s.MaximumWeight
	opt.ExpireAfterWrite = s.ExpireAfterWrite
	opt.ExpireAfterAccess = s.ExpireAfterAccess
	opt.RefreshAfterWrite = s.RefreshAfterWrite
	opt.InitialCapacity = s.InitialCapacity
	opt.Shards = s.Shards
	opt.CleanupInterval = s.CleanupInterval
	opt.UseCallingContext = s.UseCallingContext
	return nil
}

// NewExecutor returns a PoolExecutor when ExecutorWorkers > 0, or nil so the
// cache keeps its own. Assign it to Options.Executor only when non-nil; the
// caller closes the pool after closing the cache.
func (s Spec) NewExecutor(logger *slog.Logger) *cache.PoolExecutor {
	if s.ExecutorWorkers <= 0 {
		return nil
	}
	return cache.NewPoolExecutor(s.ExecutorWorkers, logger)
}

func detectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

func parserFor(f Format) (koanf.Parser, error) {
	switch f {
	case FormatYAML:
		return yaml.Parser(), nil
	case FormatJSON:
		return json.Parser(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}
