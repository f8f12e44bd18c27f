package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/shopbot/core/domain"
)

func TestOpenCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	st, err := Open(path, Default(42))
	require.NoError(t, err)

	got := st.Get()
	assert.True(t, got.IsAdmin(42))
	rate, ok := got.Rate(domain.MethodWireTransferB)
	require.True(t, ok)
	assert.True(t, rate.Equal(decimal.NewFromInt(400)))

	_, err = os.Stat(path)
	assert.NoError(t, err, "defaults are persisted on first open")
}

func TestUpdatePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	st, err := Open(path, Default(42))
	require.NoError(t, err)

	require.NoError(t, st.Update(func(s *Settings) error {
		s.Rates[domain.MethodCashBalance] = decimal.NewFromInt(225)
		s.SupportHandle = "@soporte"
		return nil
	}))

	reopened, err := Open(path, Default(0))
	require.NoError(t, err)
	got := reopened.Get()
	rate, ok := got.Rate(domain.MethodCashBalance)
	require.True(t, ok)
	assert.True(t, rate.Equal(decimal.NewFromInt(225)))
	assert.Equal(t, "@soporte", got.SupportHandle)
	assert.True(t, got.IsAdmin(42), "existing file wins over passed defaults")
}

func TestUpdateErrorLeavesStateUntouched(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "settings.json"), Default(42))
	require.NoError(t, err)

	boom := assert.AnError
	err = st.Update(func(s *Settings) error {
		s.AdminIDs = nil
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, st.Get().IsAdmin(42), "failed mutation must not apply")
}

func TestGetReturnsSnapshot(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "settings.json"), Default(42))
	require.NoError(t, err)

	snap := st.Get()
	snap.AdminIDs = append(snap.AdminIDs, 7)
	snap.Rates[domain.MethodWireTransferB] = decimal.NewFromInt(1)

	cur := st.Get()
	assert.False(t, cur.IsAdmin(7), "mutating a snapshot must not leak into the store")
	rate, _ := cur.Rate(domain.MethodWireTransferB)
	assert.True(t, rate.Equal(decimal.NewFromInt(400)))
}
