package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath = ""
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version, strings.TrimSpace(out))
}

func TestMigrateAndSeed(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "cli.db") + "?_pragma=foreign_keys(1)"
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", dsn)
	t.Setenv("LOG_LEVEL", "error")

	_, err := runCLI(t, "migrate")
	require.NoError(t, err)

	out, err := runCLI(t, "seed-market")
	require.NoError(t, err)
	assert.Contains(t, out, "stored 6 quotes")
}

func TestInvalidConfig(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "oracle")
	_, err := runCLI(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
}
