package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegis-run/aegis/internal/domain"
)

func TestJournalCheckStartsThenCaches(t *testing.T) {
	j := NewJournal(newTestStore(t))

	outcome, err := j.Check("job-1", "step-1")
	require.NoError(t, err)
	require.False(t, outcome.Cached)

	require.NoError(t, j.RecordCompletion(outcome.Key, map[string]any{"ok": true}))

	outcome2, err := j.Check("job-1", "step-1")
	require.NoError(t, err)
	require.True(t, outcome2.Cached)
	require.Equal(t, map[string]any{"ok": true}, outcome2.Result)
}

func TestJournalRecordFailureThenRetryResets(t *testing.T) {
	j := NewJournal(newTestStore(t))

	outcome, err := j.Check("job-2", "step-1")
	require.NoError(t, err)
	require.NoError(t, j.RecordFailure(outcome.Key))

	retried, err := j.Check("job-2", "step-1")
	require.NoError(t, err)
	require.False(t, retried.Cached)
}

func TestJournalStepsForOrdersByStart(t *testing.T) {
	j := NewJournal(newTestStore(t))

	_, err := j.Check("job-3", "step-a")
	require.NoError(t, err)
	_, err = j.Check("job-3", "step-b")
	require.NoError(t, err)

	steps, err := j.StepsFor("job-3")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, "step-a", steps[0].StepID)
	require.Equal(t, "step-b", steps[1].StepID)
}

func TestJournalStepsForUnknownJobIsEmpty(t *testing.T) {
	j := NewJournal(newTestStore(t))
	steps, err := j.StepsFor("no-such-job")
	require.NoError(t, err)
	require.Empty(t, steps)
}

func TestJournalRecordCompletionUnknownKeyErrors(t *testing.T) {
	j := NewJournal(newTestStore(t))
	err := j.RecordCompletion("missing-key", nil)
	require.Error(t, err)
	require.Equal(t, domain.KindNotFound, domain.KindOf(err))
}
