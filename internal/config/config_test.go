package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_Validates(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Anthropic.APIKey = "sk-ant-test"
	require.NoError(t, cfg.Validate())
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Provider = "bogus"
	cfg.RAG.TopK1 = 0
	cfg.RAG.TopK2 = 10
	cfg.Quality.Threshold = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	var verrs *ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.GreaterOrEqual(t, len(verrs.Errors), 4)
}

func TestLoad_ExpandsEnvAndIncludes(t *testing.T) {
	t.Setenv("CONDUIT_TEST_DSN", "postgres://example/test")

	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	mainPath := filepath.Join(dir, "main.yaml")

	require.NoError(t, os.WriteFile(basePath, []byte("llm:\n  provider: anthropic\n  anthropic:\n    api_key: sk-ant-base\n"), 0o600))
	require.NoError(t, os.WriteFile(mainPath, []byte("$include: base.yaml\nversion: 1\ndatabase:\n  dsn: ${CONDUIT_TEST_DSN}\n"), 0o600))

	cfg, err := Load(mainPath)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "sk-ant-base", cfg.LLM.Anthropic.APIKey)
	assert.Equal(t, "postgres://example/test", cfg.Database.DSN)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\nnot_a_real_field: true\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateVersion(t *testing.T) {
	assert.NoError(t, ValidateVersion(CurrentVersion))
	assert.Error(t, ValidateVersion(0))
	assert.Error(t, ValidateVersion(CurrentVersion+1))
}
