package settings

import (
	"fmt"
	"strconv"

	"grabbit/internal/database"
	"grabbit/internal/event"
	"grabbit/internal/fetch"
	"grabbit/internal/http/litterbox"
)

// Service layers per-key validation and change notification over the raw
// settings store. Both gateways mutate settings through this type so that
// an update made over REST is observed by the chat gateway and vice versa.
type Service struct {
	db       database.Queryable
	store    *Store
	eventBus event.EventDispatcher
}

func NewService(db database.Queryable, store *Store, eventBus event.EventDispatcher) *Service {
	return &Service{db: db, store: store, eventBus: eventBus}
}

func (service *Service) Settings() (*Snapshot, error) {
	return service.store.Snapshot(service.db)
}

func (service *Service) Setting(key string) (string, error) {
	return service.store.Get(service.db, key)
}

// SetSetting validates the value against the key's domain before writing
// it through, then announces the change on the event bus. The litterbox
// expiry accepts a bare hour count ("24") and stores the normalized form.
func (service *Service) SetSetting(key string, value string) error {
	switch key {
	case KeyCobaltURL:
		if !fetch.IsValidURL(value) {
			return fmt.Errorf("'%s' is not a valid URL", value)
		}
	case KeyDownloadPath:
		if value == "" {
			return fmt.Errorf("download path cannot be empty")
		}
	case KeyDebug, KeyPersistent:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("'%s' is not a valid boolean", value)
		}
	case KeyLitterboxExpiry:
		value = litterbox.NormalizeExpiry(value)
		if !litterbox.IsValidExpiry(value) {
			return fmt.Errorf("'%s' is not a valid expiry, must be one of %v", value, litterbox.ValidExpiries)
		}
	case KeyLimitMB:
		limit, err := strconv.ParseFloat(value, 64)
		if err != nil || limit <= 0 {
			return fmt.Errorf("'%s' is not a valid size limit in MB", value)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	if err := service.store.Set(service.db, key, value); err != nil {
		return err
	}

	service.eventBus.Dispatch(event.SettingsUpdateEvent, key)
	return nil
}

// ToggleSetting flips a boolean setting, returning its new state.
func (service *Service) ToggleSetting(key string) (bool, error) {
	if key != KeyDebug && key != KeyPersistent {
		return false, fmt.Errorf("setting %s is not toggleable", key)
	}

	enabled, err := service.store.Toggle(service.db, key)
	if err != nil {
		return false, err
	}

	service.eventBus.Dispatch(event.SettingsUpdateEvent, key)
	return enabled, nil
}
