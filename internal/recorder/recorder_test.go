package recorder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecorder_Actions(t *testing.T) {
	r := openTestRecorder(t)

	r.RecordAction("like", "some post")
	r.RecordAction("like", "another post")
	r.RecordAction("comment", "a comment")

	likes, err := r.ActionCount("like")
	require.NoError(t, err)
	assert.Equal(t, 2, likes)

	all, err := r.ActionCount("")
	require.NoError(t, err)
	assert.Equal(t, 3, all)
}

func TestRecorder_ErrorWithScreenshot(t *testing.T) {
	workspace := t.TempDir()
	r, err := Open(workspace)
	require.NoError(t, err)
	defer r.Close()

	r.RecordError("cycle/open detail", "element not found", []byte{0x89, 'P', 'N', 'G'})

	n, err := r.ErrorCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	shots, err := os.ReadDir(filepath.Join(workspace, ".nightshift", "errors"))
	require.NoError(t, err)
	require.Len(t, shots, 1)
	assert.Contains(t, shots[0].Name(), "cycle_open_detail")
}

func TestRecorder_ErrorWithoutScreenshot(t *testing.T) {
	workspace := t.TempDir()
	r, err := Open(workspace)
	require.NoError(t, err)
	defer r.Close()

	r.RecordError("cycle", "timeout", nil)

	n, err := r.ErrorCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.ReadDir(filepath.Join(workspace, ".nightshift", "errors"))
	assert.True(t, os.IsNotExist(err), "no screenshot dir without screenshots")
}

func TestRecorder_Recoveries(t *testing.T) {
	r := openTestRecorder(t)

	r.RecordRecovery("element not found", "recoverable", true, true, false)
	r.RecordRecovery("net::ERR_TIMED_OUT", "transient", false, false, true)

	s, err := r.Recoveries()
	require.NoError(t, err)
	assert.Equal(t, RecoverySummary{Total: 2, Repaired: 1, FallbackTaken: 1}, s)
}

func TestRecorder_SurvivesReopen(t *testing.T) {
	workspace := t.TempDir()
	r, err := Open(workspace)
	require.NoError(t, err)
	r.RecordAction("save", "x")
	require.NoError(t, r.Close())

	r2, err := Open(workspace)
	require.NoError(t, err)
	defer r2.Close()

	n, err := r2.ActionCount("save")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
