package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"grabbit/internal/database"
	"grabbit/pkg/logger"

	"github.com/Masterminds/squirrel"
	"github.com/mitchellh/mapstructure"
)

var (
	ErrUnknownKey = errors.New("unknown settings key")

	log = logger.Get("SettingsStore")
)

// The keys of every runtime-mutable setting. Anything not listed here is
// boot configuration and lives in the YAML/env config instead.
const (
	KeyCobaltURL       = "cobalt_url"
	KeyDownloadPath    = "download_path"
	KeyDebug           = "debug"
	KeyPersistent      = "persistent"
	KeyLitterboxExpiry = "litterbox_expiry"
	KeyLimitMB         = "limit_mb"
)

type (
	// Snapshot is a decoded view of every setting at a point in time. Callers
	// should treat it as immutable; a fresh snapshot must be taken to observe
	// writes from other goroutines.
	Snapshot struct {
		CobaltURL       string  `mapstructure:"cobalt_url"`
		DownloadPath    string  `mapstructure:"download_path"`
		Debug           bool    `mapstructure:"debug"`
		Persistent      bool    `mapstructure:"persistent"`
		LitterboxExpiry string  `mapstructure:"litterbox_expiry"`
		LimitMB         float64 `mapstructure:"limit_mb"`
	}

	settingModel struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}

	Store struct {
		defaults map[string]string
	}
)

// NewStore constructs a settings store. The defaultDownloadPath is baked in
// to the store's defaults so that a fresh database is seeded with a usable
// download location.
func NewStore(defaultDownloadPath string) *Store {
	return &Store{
		defaults: map[string]string{
			KeyCobaltURL:       "http://localhost:9000",
			KeyDownloadPath:    defaultDownloadPath,
			KeyDebug:           "false",
			KeyPersistent:      "false",
			KeyLitterboxExpiry: "24h",
			KeyLimitMB:         "8",
		},
	}
}

// Seed inserts the default value for any setting which is missing from
// the database. Existing rows are left untouched.
func (store *Store) Seed(db database.Queryable) error {
	existing, err := store.all(db)
	if err != nil {
		return err
	}

	for key, value := range store.defaults {
		if _, ok := existing[key]; ok {
			continue
		}

		log.Emit(logger.NEW, "Seeding default value for setting '%s'\n", key)
		if err := store.Set(db, key, value); err != nil {
			return err
		}
	}

	return nil
}

// Get returns the stored value for the given key, falling back to the
// compile-time default when the row is absent.
func (store *Store) Get(db database.Queryable, key string) (string, error) {
	if _, ok := store.defaults[key]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	query, args, err := squirrel.
		Select("key", "value").
		From("settings").
		Where("key=?", key).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("failed to construct settings query: %w", err)
	}

	var result settingModel
	if err := db.Get(&result, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.defaults[key], nil
		}

		return "", fmt.Errorf("failed to fetch setting '%s': %w", key, err)
	}

	return result.Value, nil
}

// Set upserts the value for the given key. Unknown keys are rejected so a
// typo'd config command cannot silently grow the table.
func (store *Store) Set(db database.Queryable, key string, value string) error {
	if _, ok := store.defaults[key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	_, err := db.Exec(db.Rebind(`
		INSERT INTO settings(key, value, updated_at)
		VALUES (?, ?, current_timestamp)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=current_timestamp
	`), key, value)
	if err != nil {
		return fmt.Errorf("failed to upsert setting '%s': %w", key, err)
	}

	return nil
}

// Toggle flips a boolean setting and returns the new state.
func (store *Store) Toggle(db database.Queryable, key string) (bool, error) {
	current, err := store.Get(db, key)
	if err != nil {
		return false, err
	}

	flipped := current != "true"
	if err := store.Set(db, key, fmt.Sprintf("%t", flipped)); err != nil {
		return false, err
	}

	return flipped, nil
}

// Snapshot decodes the full settings table (with defaults filled in for any
// missing rows) into a typed Snapshot struct.
func (store *Store) Snapshot(db database.Queryable) (*Snapshot, error) {
	values, err := store.all(db)
	if err != nil {
		return nil, err
	}

	for key, def := range store.defaults {
		if _, ok := values[key]; !ok {
			values[key] = def
		}
	}

	var snapshot Snapshot
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &snapshot,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to construct settings decoder: %w", err)
	}

	if err := decoder.Decode(values); err != nil {
		return nil, fmt.Errorf("failed to decode settings snapshot: %w", err)
	}

	return &snapshot, nil
}

// EnsureDownloadDir creates (if needed) and returns the directory that
// downloads should be written to. When workdir is true, a 'workdir'
// subdirectory is used, keeping conversion scratch files away from output.
func (snapshot *Snapshot) EnsureDownloadDir(workdir bool) (string, error) {
	path := snapshot.DownloadPath
	if workdir {
		path = filepath.Join(path, "workdir")
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("failed to create download dir %s: %w", path, err)
	}

	return path, nil
}

// LimitBytes returns the attachment size threshold in bytes.
func (snapshot *Snapshot) LimitBytes() int64 {
	return int64(snapshot.LimitMB * 1024 * 1024)
}

func (store *Store) all(db database.Queryable) (map[string]string, error) {
	query, args, err := squirrel.Select("key", "value").From("settings").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct settings query: %w", err)
	}

	var results []settingModel
	if err := db.Select(&results, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	output := make(map[string]string, len(results))
	for _, row := range results {
		output[row.Key] = row.Value
	}

	return output, nil
}
