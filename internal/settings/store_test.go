package settings_test

import (
	"path/filepath"
	"testing"

	"grabbit/internal/database"
	"grabbit/internal/settings"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sqlx.DB {
	manager := database.New()
	require.Nil(t, manager.Connect(database.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "grabbit.db"),
	}))

	return manager.GetSqlxDb()
}

func newSeededStore(t *testing.T) (*settings.Store, *sqlx.DB) {
	db := newTestDB(t)
	store := settings.NewStore("/tmp/grabbit-test-downloads")
	require.Nil(t, store.Seed(db))
	return store, db
}

func Test_Seed_InstallsDefaults(t *testing.T) {
	t.Parallel()
	store, db := newSeededStore(t)

	url, err := store.Get(db, settings.KeyCobaltURL)
	require.Nil(t, err)
	assert.Equal(t, "http://localhost:9000", url)

	limit, err := store.Get(db, settings.KeyLimitMB)
	require.Nil(t, err)
	assert.Equal(t, "8", limit)

	expiry, err := store.Get(db, settings.KeyLitterboxExpiry)
	require.Nil(t, err)
	assert.Equal(t, "24h", expiry)
}

func Test_Seed_DoesNotClobberExistingValues(t *testing.T) {
	t.Parallel()
	store, db := newSeededStore(t)

	require.Nil(t, store.Set(db, settings.KeyLimitMB, "25"))
	require.Nil(t, store.Seed(db))

	limit, err := store.Get(db, settings.KeyLimitMB)
	require.Nil(t, err)
	assert.Equal(t, "25", limit)
}

func Test_SetAndGet_RoundTrip(t *testing.T) {
	t.Parallel()
	store, db := newSeededStore(t)

	require.Nil(t, store.Set(db, settings.KeyCobaltURL, "http://10.0.0.5:9000"))
	url, err := store.Get(db, settings.KeyCobaltURL)
	require.Nil(t, err)
	assert.Equal(t, "http://10.0.0.5:9000", url)
}

func Test_Get_FallsBackToDefaultWhenRowMissing(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	store := settings.NewStore("/tmp/grabbit-test-downloads")

	value, err := store.Get(db, settings.KeyLimitMB)
	require.Nil(t, err)
	assert.Equal(t, "8", value)
}

func Test_Get_PropagatesDatabaseFailures(t *testing.T) {
	t.Parallel()
	store, db := newSeededStore(t)

	// A broken connection must surface as an error, not a silent default
	require.Nil(t, db.Close())
	_, err := store.Get(db, settings.KeyCobaltURL)
	assert.Error(t, err)
}

func Test_Get_UnknownKey(t *testing.T) {
	t.Parallel()
	store, db := newSeededStore(t)

	_, err := store.Get(db, "nonsense")
	assert.ErrorIs(t, err, settings.ErrUnknownKey)
}

func Test_Toggle_FlipsBooleans(t *testing.T) {
	t.Parallel()
	store, db := newSeededStore(t)

	enabled, err := store.Toggle(db, settings.KeyDebug)
	require.Nil(t, err)
	assert.True(t, enabled)

	enabled, err = store.Toggle(db, settings.KeyDebug)
	require.Nil(t, err)
	assert.False(t, enabled)
}

func Test_Snapshot_DecodesTypedView(t *testing.T) {
	t.Parallel()
	store, db := newSeededStore(t)

	require.Nil(t, store.Set(db, settings.KeyLimitMB, "9.5"))
	require.Nil(t, store.Set(db, settings.KeyPersistent, "true"))

	snapshot, err := store.Snapshot(db)
	require.Nil(t, err)

	assert.Equal(t, 9.5, snapshot.LimitMB)
	assert.True(t, snapshot.Persistent)
	assert.False(t, snapshot.Debug)
	assert.Equal(t, "http://localhost:9000", snapshot.CobaltURL)
	assert.Equal(t, int64(9.5*1024*1024), snapshot.LimitBytes())
}
