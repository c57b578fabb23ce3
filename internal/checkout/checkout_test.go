package checkout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceLaneDirs(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	defer ws.Cleanup()

	dir, err := ws.LaneDir("linux-stable")
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Product lane ids map "/" to nested directories.
	nested, err := ws.LaneDir("linux/nightly")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Root(), "linux", "nightly"), nested)

	// Idempotent.
	again, err := ws.LaneDir("linux-stable")
	require.NoError(t, err)
	assert.Equal(t, dir, again)
}

func TestWorkspaceCleanup(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	_, err = ws.LaneDir("lane")
	require.NoError(t, err)

	require.NoError(t, ws.Cleanup())
	_, err = os.Stat(ws.Root())
	assert.True(t, os.IsNotExist(err))
}

func TestClassifyCloneError(t *testing.T) {
	authErr := classifyCloneError("https://git.example.com/x.git", errors.New("authentication required"))
	var ae *AuthError
	require.ErrorAs(t, authErr, &ae)
	assert.Contains(t, ae.Error(), "git.example.com")

	nfErr := classifyCloneError("https://git.example.com/x.git", errors.New("repository not found"))
	var nf *NotFoundError
	require.ErrorAs(t, nfErr, &nf)

	netErr := classifyCloneError("https://git.example.com/x.git", errors.New("connection reset by peer"))
	assert.False(t, Permanent(netErr))
}

func TestPermanent(t *testing.T) {
	assert.True(t, Permanent(&AuthError{URL: "u", Err: errors.New("x")}))
	assert.True(t, Permanent(&NotFoundError{URL: "u", Err: errors.New("x")}))
	assert.True(t, Permanent(fmt.Errorf("wrapped: %w", &AuthError{URL: "u", Err: errors.New("x")})))
	assert.False(t, Permanent(errors.New("timeout")))
	assert.False(t, Permanent(nil))
}
