package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, 2*time.Minute, cfg.InstructionTTL)
	assert.Equal(t, uint64(10_000_000), cfg.MinPledgeLamports)
	assert.Equal(t, "postgres://:@localhost:5432/fundwave?sslmode=disable", cfg.Database.DSN())
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	path := filepath.Join(dir, "fundwave.yaml")
	yamlBody := `
port: "9090"
store: sqlite
sqlitePath: /tmp/ledger.sqlite
instructionTtl: 30s
webhookUrls:
  - http://hooks.local/a
database:
  user: yaml-user
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	t.Setenv("FUNDWAVE_PORT", "7070")
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, StoreSqlite, cfg.Store)
	assert.Equal(t, 30*time.Second, cfg.InstructionTTL)
	assert.Equal(t, []string{"http://hooks.local/a"}, cfg.WebhookURLs)
	assert.Equal(t, "yaml-user", cfg.Database.User)
	assert.Equal(t, "secret", cfg.Database.Password)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FUNDWAVE_STORE=memory\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("FUNDWAVE_STORE") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Store = "mongo"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.PinStore = PinStorePinata
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.ProgramID = "not-a-key"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	program, err := cfg.Program()
	require.NoError(t, err)
	assert.Equal(t, DefaultProgramID, program.String())
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains: it changes
// the working directory and restores it when the test finishes.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
