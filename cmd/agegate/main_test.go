package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/AgeGate/internal/auth"
)

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"verify", "token", "migrate", "stack", "test"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestTokenCommandMintsValidToken(t *testing.T) {
	t.Setenv("AGEGATE_AUTH_JWT_SECRET", "cli-secret")
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--user", "u42"})

	require.NoError(t, root.Execute())

	claims, err := auth.NewTokenService("cli-secret", "agegate").Validate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "u42", claims.UserID)
}

func TestVerifyRequiresFile(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"verify"})
	require.Error(t, root.Execute())
}
