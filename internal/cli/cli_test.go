package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apikit/internal/builtin"
	"apikit/internal/config"
	"apikit/internal/store"
)

func noEnv(string) (string, bool) { return "", false }

// testConfig writes a config pointing at a temp sqlite database and returns
// both paths.
func testConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "cli.db")
	cfgPath := filepath.Join(dir, "apikit.yaml")
	content := "databases:\n  - name: main\n    driver: sqlite\n    path: " + dbPath + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))
	return cfgPath, dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(noEnv)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func openDB(t *testing.T, path string) *store.Store {
	t.Helper()
	ctx := context.Background()
	s := store.Open(ctx, store.Config{Driver: "sqlite", Path: path})
	require.True(t, s.Connected(), s.ConnectError())
	t.Cleanup(func() { s.Close(ctx) })
	return s
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "apictl", cmd.Use)
	for _, name := range []string{"migrate", "create-user", "issue-token"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	cfgPath, _ := testConfig(t)
	_, err := execute(t, "migrate", "--config", cfgPath, "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestMigrateCreatesTables(t *testing.T) {
	cfgPath, dbPath := testConfig(t)
	out, err := execute(t, "migrate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "schema applied to main\n", out)

	s := openDB(t, dbPath)
	for _, table := range []string{builtin.UsersTable, "admins", "access_tokens", "limits"} {
		_, err := s.Count(context.Background(), table, "")
		assert.NoError(t, err, table)
	}

	_, err = execute(t, "migrate", "--config", cfgPath)
	assert.NoError(t, err, "migrate should be repeatable")
}

func TestMigrateUnknownDatabase(t *testing.T) {
	cfgPath, _ := testConfig(t)
	_, err := execute(t, "migrate", "--config", cfgPath, "--db", "archive")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCreateUserAndIssueToken(t *testing.T) {
	cfgPath, dbPath := testConfig(t)
	_, err := execute(t, "migrate", "--config", cfgPath)
	require.NoError(t, err)

	out, err := execute(t, "create-user", "--config", cfgPath, "--login", "root", "--password", "correct horse", "--admin")
	require.NoError(t, err)
	assert.Equal(t, "created admin \"root\" with id 1\n", out)

	s := openDB(t, dbPath)
	isAdmin, err := builtin.AdminFromTable(config.DefaultAdminTable)(context.Background(), s, 1)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	_, err = execute(t, "create-user", "--config", cfgPath, "--login", "root", "--password", "correct horse")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	first, err := execute(t, "issue-token", "--config", cfgPath, "--login", "root", "--format", "json")
	require.NoError(t, err)
	var result struct {
		Status string `json:"status"`
		Data   struct {
			AccessToken string `json:"access_token"`
			Issued      bool   `json:"issued"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(first), &result))
	assert.Equal(t, "ok", result.Status)
	assert.True(t, result.Data.Issued)
	assert.Len(t, result.Data.AccessToken, 48)

	second, err := execute(t, "issue-token", "--config", cfgPath, "--login", "root")
	require.NoError(t, err)
	assert.Equal(t, result.Data.AccessToken, strings.TrimSpace(second))

	_, err = execute(t, "issue-token", "--config", cfgPath, "--login", "nobody")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCreateUserRequiresFlags(t *testing.T) {
	cfgPath, _ := testConfig(t)
	_, err := execute(t, "create-user", "--config", cfgPath, "--login", "ada")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "load", assert.AnError)))
}
