package main

import (
	"bytes"
	"strings"
	"testing"

	"taskboard-backend/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, cmdArgs ...string) (string, error) {
	t.Helper()
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("JWT_SECRET", "cli-secret")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("NATS_URL", "")

	cmd := tokenCmd()
	switch cmdArgs[0] {
	case "check":
		cmd = checkCmd()
	case "migrate":
		cmd = migrateCmd()
	}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(cmdArgs[1:])
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCmd(t *testing.T) {
	out, err := run(t, "token", "u-1", "--email", "dev@example.com")
	require.NoError(t, err)

	user, err := utils.NewJWTService("cli-secret").ExtractUserFromToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)
	assert.Equal(t, "dev@example.com", user.Email)
}

func TestCheckCmd(t *testing.T) {
	out, err := run(t, "check", "u-1", "org-1", "EDIT_TASK")
	require.NoError(t, err)
	assert.Contains(t, out, "EDIT_TASK denied")

	_, err = run(t, "check", "u-1", "org-1", "FLY")
	assert.Error(t, err)
}

func TestMigrateCmd_Memory(t *testing.T) {
	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "memory store ready\n", out)
}
