package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegis-run/aegis/internal/budget"
	"github.com/aegis-run/aegis/internal/domain"
)

func noopHandler(msg *domain.Message, _ budget.Signal) (*domain.Message, error) {
	return msg, nil
}

func TestRegisterAndGetHandler(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("gear:mock", noopHandler))

	h, ok := r.GetHandler("gear:mock")
	require.True(t, ok)
	require.NotNil(t, h)
	require.True(t, r.Has("gear:mock"))
}

func TestRegisterRejectsInvalidID(t *testing.T) {
	r := New()
	err := r.Register("not a valid id!", noopHandler)
	require.Error(t, err)
	require.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("scout", noopHandler))
	err := r.Register("scout", noopHandler)
	require.Error(t, err)
	require.Equal(t, domain.KindConflict, domain.KindOf(err))
}

func TestUnregister(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("bridge", noopHandler))
	require.NoError(t, r.Unregister("bridge"))
	require.False(t, r.Has("bridge"))
}

func TestUnregisterNotFound(t *testing.T) {
	r := New()
	err := r.Unregister("bridge")
	require.Error(t, err)
	require.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestListIDs(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("scout", noopHandler))
	require.NoError(t, r.Register("sentinel", noopHandler))

	ids := r.ListIDs()
	require.Len(t, ids, 2)
	require.ElementsMatch(t, []string{"scout", "sentinel"}, ids)
}

func TestClear(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("journal", noopHandler))
	r.Clear()
	require.Empty(t, r.ListIDs())
	require.False(t, r.Has("journal"))
}
