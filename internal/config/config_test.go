package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig("/base")

	assert.Equal(t, "/base", cfg.BaseDir)
	assert.Equal(t, filepath.Join("/base", "log"), cfg.LogDir)
	assert.Equal(t, "filesystem", cfg.Content.Type)
	assert.Equal(t, filepath.Join("/base", "content"), cfg.Content.FSRoot)
	assert.Equal(t, "sqlite", cfg.Containers.Type)
	assert.Equal(t, int64(DefaultMaxUploadSize), cfg.Upload.MaxSize)
	assert.Equal(t, uint64(5), cfg.Retry.MaxAttempts)
}

func TestConfigRoundTrip(t *testing.T) {
	cfg := NewConfig("/base")
	cfg.Content.Type = "s3"
	cfg.Content.S3Bucket = "my-bucket"
	cfg.Content.S3Region = "eu-west-1"

	var buf bytes.Buffer
	m := &Manager{}
	require.NoError(t, m.Write(&buf, cfg))

	got, err := m.Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestConfigReadPartial(t *testing.T) {
	raw := `
base_dir = "/data/csync"

[content_store]
type = "memory"
`
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, "/data/csync", cfg.BaseDir)
	assert.Equal(t, "memory", cfg.Content.Type)
	assert.Zero(t, cfg.Upload.MaxSize)
}

func TestConfigReadInvalid(t *testing.T) {
	m := &Manager{}
	_, err := m.Read(strings.NewReader("not [valid toml"))
	require.Error(t, err)
}

func TestQueryTimeout(t *testing.T) {
	cfg := NewConfig("/base")
	assert.Equal(t, 120*time.Second, cfg.QueryTimeout())

	cfg.Retry.QueryTimeout = 30
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout())

	t.Setenv("CSYNC_QUERY_TIMEOUT", "7")
	assert.Equal(t, 7*time.Second, cfg.QueryTimeout())

	t.Setenv("CSYNC_QUERY_TIMEOUT", "garbage")
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout())
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "csync.toml")
	cfg := NewConfig("/base")

	require.NoError(t, Init(path, cfg))

	got, err := ReadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	// Never clobbers an existing file.
	require.Error(t, Init(path, cfg))
}

func TestReadFromFileMissing(t *testing.T) {
	_, err := ReadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}
