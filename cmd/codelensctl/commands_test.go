package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/codelens-ingest/internal/middleware"
	"github.com/arturoeanton/codelens-ingest/internal/port"
	"github.com/arturoeanton/codelens-ingest/pkg/config"
)

func run(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand(&ctlOpts{cfg: cfg})
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	cfg := &config.Config{APITokenSecret: "s3cret", APITokenIssuer: "codelens", APITokenTTL: time.Hour}

	out, err := run(t, cfg, "token", "--user", "user-1", "--email", "ops@example.com")
	require.NoError(t, err)

	claims, err := middleware.ValidateJWT(strings.TrimSpace(out), middleware.JWTConfig{Secret: "s3cret", Issuer: "codelens"})
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "ops@example.com", claims.Email)
}

func TestTokenCommand_Errors(t *testing.T) {
	_, err := run(t, &config.Config{APITokenSecret: "s3cret"}, "token")
	assert.Error(t, err, "--user is required")

	_, err = run(t, &config.Config{}, "token", "--user", "user-1")
	assert.ErrorIs(t, err, port.ErrCapabilityDisabled)
}

func TestSeedCommand_Disabled(t *testing.T) {
	_, err := run(t, &config.Config{}, "seed")
	assert.ErrorIs(t, err, errSeedDisabled)
}

func TestArgs(t *testing.T) {
	_, err := run(t, &config.Config{}, "status")
	assert.Error(t, err)

	_, err = run(t, &config.Config{}, "ingest", "a", "b")
	assert.Error(t, err)
}
