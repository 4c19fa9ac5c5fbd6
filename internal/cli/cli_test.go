package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/elastic/elastictest"
	apperrors "github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/errors"
)

func writeConfig(t *testing.T, statePath, elasticURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "etl.yaml")
	body := fmt.Sprintf(`state:
  backend: file
  path: %s
elastic:
  url: %s
logging:
  level: error
retry:
  initialDelay: 1ms
  maxDelay: 5ms
`, statePath, elasticURL)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMappingPrintsIndexBody(t *testing.T) {
	out, err := execute(t, "mapping", "film_work")
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Contains(t, body, "settings")
	assert.Contains(t, body, "mappings")
	assert.Contains(t, out, "ru_en")
}

func TestMappingRejectsUnknownTable(t *testing.T) {
	_, err := execute(t, "mapping", "tag")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownTable)
}

func TestMappingRequiresOneArgument(t *testing.T) {
	_, err := execute(t, "mapping")
	assert.Error(t, err)
}

func TestResetWritesEpochWatermarks(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state", "etl.json")
	cfgPath := writeConfig(t, statePath, "http://127.0.0.1:1")

	out, err := execute(t, "--config", cfgPath, "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "film_work: watermark reset to 1900-01-01T00:00:00.000000")
	assert.Contains(t, out, "person: watermark reset")

	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	var values map[string]string
	require.NoError(t, json.Unmarshal(data, &values))
	assert.Equal(t, map[string]string{
		"last_film_work_crawl_time": "1900-01-01T00:00:00.000000",
		"last_genre_crawl_time":     "1900-01-01T00:00:00.000000",
		"last_person_crawl_time":    "1900-01-01T00:00:00.000000",
	}, values)
}

func TestResetSingleTable(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "etl.json")
	require.NoError(t, os.WriteFile(statePath,
		[]byte(`{"last_genre_crawl_time":"2024-05-01T10:00:00.000000","last_person_crawl_time":"2024-05-01T10:00:00.000000"}`), 0o644))
	cfgPath := writeConfig(t, statePath, "http://127.0.0.1:1")

	_, err := execute(t, "--config", cfgPath, "reset", "genre")
	require.NoError(t, err)

	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	var values map[string]string
	require.NoError(t, json.Unmarshal(data, &values))
	assert.Equal(t, "1900-01-01T00:00:00.000000", values["last_genre_crawl_time"])
	assert.Equal(t, "2024-05-01T10:00:00.000000", values["last_person_crawl_time"])
}

func TestResetRejectsUnknownTableBeforeWriting(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "etl.json")
	cfgPath := writeConfig(t, statePath, "http://127.0.0.1:1")

	_, err := execute(t, "--config", cfgPath, "reset", "genre", "tag")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownTable)
	assert.NoFileExists(t, statePath)
}

func TestIndicesCreatesEveryIndex(t *testing.T) {
	srv := elastictest.NewServer(t)
	cfgPath := writeConfig(t, filepath.Join(t.TempDir(), "etl.json"), srv.URL)

	out, err := execute(t, "--config", cfgPath, "indices")
	require.NoError(t, err)
	assert.Contains(t, out, "film_work: index movies ready")

	for _, name := range []string{"movies", "genres", "persons"} {
		_, ok := srv.Mapping(name)
		assert.True(t, ok, name)
	}

	_, err = execute(t, "--config", cfgPath, "indices")
	require.NoError(t, err)
	assert.Equal(t, 3, srv.Creates(), "existing indices are left alone")
}

func TestInvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("etl:\n  pageSize: 0\n"), 0o644))

	_, err := execute(t, "--config", path, "reset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "etl.pageSize must be positive")
}

func TestStaleAfterHasFloor(t *testing.T) {
	cfg := config.ETLConfig{Tables: []string{"film_work"}, FetchDelay: 0}
	assert.Equal(t, 5*time.Minute, staleAfter(cfg))

	cfg.FetchDelay = 30 * time.Second
	cfg.Tables = []string{"film_work", "genre", "person"}
	assert.Equal(t, 20*time.Minute, staleAfter(cfg))
}
