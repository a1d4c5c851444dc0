package journal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegis-run/aegis/internal/domain"
)

func TestKeyIsDeterministicAndSeparatesFields(t *testing.T) {
	require.Equal(t, Key("job-1", "step-1"), Key("job-1", "step-1"))
	require.NotEqual(t, Key("job-1", "step-1"), Key("job-2", "step-1"))
	// "a"+"bc" must not collide with "ab"+"c".
	require.NotEqual(t, Key("a", "bc"), Key("ab", "c"))
}

func TestMemStoreCheckFirstTimeExecutes(t *testing.T) {
	m := NewMemStore()
	out, err := m.Check("job-1", "step-1")
	require.NoError(t, err)
	require.False(t, out.Cached)
	require.Equal(t, Key("job-1", "step-1"), out.Key)
}

func TestMemStoreCheckCachesCompletedResult(t *testing.T) {
	m := NewMemStore()
	out, err := m.Check("job-1", "step-1")
	require.NoError(t, err)

	require.NoError(t, m.RecordCompletion(out.Key, map[string]any{"ok": true}))

	out2, err := m.Check("job-1", "step-1")
	require.NoError(t, err)
	require.True(t, out2.Cached)
	require.Equal(t, map[string]any{"ok": true}, out2.Result)
}

func TestMemStoreCheckResetsAfterFailure(t *testing.T) {
	m := NewMemStore()
	out, err := m.Check("job-1", "step-1")
	require.NoError(t, err)
	require.NoError(t, m.RecordFailure(out.Key))

	out2, err := m.Check("job-1", "step-1")
	require.NoError(t, err)
	require.False(t, out2.Cached)

	entry, ok, err := m.Get(out.Key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.LogStarted, entry.Status)
	require.Nil(t, entry.CompletedAt)
}

func TestMemStoreRecordCompletionUnknownKeyErrors(t *testing.T) {
	m := NewMemStore()
	err := m.RecordCompletion("missing", "result")
	require.Error(t, err)
	require.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestMemStoreRecordFailureUnknownKeyErrors(t *testing.T) {
	m := NewMemStore()
	err := m.RecordFailure("missing")
	require.Error(t, err)
	require.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestMemStoreGetUnknownKey(t *testing.T) {
	m := NewMemStore()
	entry, ok, err := m.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, entry)
}

func TestMemStoreGetReturnsACopy(t *testing.T) {
	m := NewMemStore()
	out, err := m.Check("job-1", "step-1")
	require.NoError(t, err)

	entry, ok, err := m.Get(out.Key)
	require.NoError(t, err)
	require.True(t, ok)

	entry.Status = domain.LogCompleted

	entry2, _, err := m.Get(out.Key)
	require.NoError(t, err)
	require.Equal(t, domain.LogStarted, entry2.Status)
}
