package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/loadcache/cache"
)

const yamlDoc = `
maximum_size: 1000
expire_after_write: 5m
refresh_after_write: 30s
shards: 8
cleanup_interval: 1s
use_calling_context: true
policy: 2q
two_q:
  in_pct: 20
executor_workers: 4
`

const jsonDoc = `{
  "maximum_weight": 4096,
  "expire_after_access": "90s",
  "initial_capacity": 64
}`

func TestParse_YAML(t *testing.T) {
	t.Parallel()
	s, err := Parse([]byte(yamlDoc), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, Spec{
		MaximumSize:       1000,
		ExpireAfterWrite:  5 * time.Minute,
		RefreshAfterWrite: 30 * time.Second,
		Shards:            8,
		CleanupInterval:   time.Second,
		UseCallingContext: true,
		Policy:            "2q",
		TwoQ:              TwoQ{InPct: 20},
		ExecutorWorkers:   4,
	}, s)
}

func TestParse_JSON(t *testing.T) {
	t.Parallel()
	s, err := Parse([]byte(jsonDoc), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), s.MaximumWeight)
	assert.Equal(t, 90*time.Second, s.ExpireAfterAccess)
	assert.Equal(t, 64, s.InitialCapacity)
	assert.Zero(t, s.MaximumSize)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		data   string
		format Format
		want   error
	}{
		{"unknown format", "a: 1", Format("toml"), ErrUnsupportedFormat},
		{"broken yaml", "maximum_size: [", FormatYAML, ErrLoadFailed},
		{"broken json", "{", FormatJSON, ErrLoadFailed},
		{"bad duration", "expire_after_write: soon", FormatYAML, ErrUnmarshalFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tc.data), tc.format)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()
	s, err := Parse(nil, FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, Spec{}, s)
}

func TestLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yml := filepath.Join(dir, "cache.yml")
	require.NoError(t, os.WriteFile(yml, []byte(yamlDoc), 0o600))
	js := filepath.Join(dir, "cache.JSON")
	require.NoError(t, os.WriteFile(js, []byte(jsonDoc), 0o600))

	s, err := Load(yml)
	require.NoError(t, err)
	assert.Equal(t, 1000, s.MaximumSize)

	s, err = Load(js)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), s.MaximumWeight)

	_, err = Load("")
	assert.ErrorIs(t, err, ErrEmptyPath)
	_, err = Load(filepath.Join(dir, "cache.ini"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, ErrLoadFailed)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApply(t *testing.T) {
	t.Parallel()
	s, err := Parse([]byte(yamlDoc), FormatYAML)
	require.NoError(t, err)

	loader := func(_ context.Context, k string) (int, error) { return len(k), nil }
	opt := cache.Options[string, int]{Loader: loader}
	require.NoError(t, Apply(s, &opt))
	assert.Equal(t, int64(1000), opt.MaximumSize)
	assert.Equal(t, 5*time.Minute, opt.ExpireAfterWrite)
	assert.Equal(t, 8, opt.Shards)
	assert.True(t, opt.UseCallingContext)
	assert.NotNil(t, opt.Policy)
	assert.NotNil(t, opt.Loader, "code-only fields are kept")

	exec := s.NewExecutor(nil)
	require.NotNil(t, exec)
	defer exec.Close()
	opt.Executor = exec

	c, err := cache.New(opt)
	require.NoError(t, err)
	v, err := c.Get(context.Background(), "four")
	require.NoError(t, err)
	assert.Equal(t, 4, v)
	require.NoError(t, c.Close())
}

func TestApply_UnknownPolicy(t *testing.T) {
	t.Parallel()
	var opt cache.Options[int, int]
	err := Apply(Spec{Policy: "arc"}, &opt)
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestApply_InvalidValuesSurfaceInNew(t *testing.T) {
	t.Parallel()
	var opt cache.Options[int, int]
	require.NoError(t, Apply(Spec{MaximumSize: 10, MaximumWeight: 10}, &opt))
	_, err := cache.New(opt)
	assert.ErrorIs(t, err, cache.ErrInvalidConfig)
}

func TestNewExecutor_Disabled(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Spec{}.NewExecutor(nil))
}
