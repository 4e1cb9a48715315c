// Package localstore is the client-local persistence bridge: the cart map,
// auth token and cached wishlist ids survive restarts in a small SQLite file,
// the way the browser storefront kept them in localStorage.
package localstore

import (
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const (
	keyCart        = "cart"
	keyAuthToken   = "auth_token"
	keyWishlistIDs = "wishlist_ids"
)

type stateRow struct {
	Key       string `gorm:"primaryKey;column:key"`
	Value     string `gorm:"column:value"`
	UpdatedAt time.Time
}

func (stateRow) TableName() string {
	return "client_state"
}

// Store wraps the local state database.
type Store struct {
	db *gorm.DB
}

// Open opens (and optionally migrates) the state file at path.
func Open(path string, autoMigrate bool) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state path required")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}
	if autoMigrate {
		if err := db.AutoMigrate(&stateRow{}); err != nil {
			return nil, fmt.Errorf("migrating state db: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) put(key, value string) error {
	row := stateRow{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

func (s *Store) get(key string) (string, bool, error) {
	var row stateRow
	err := s.db.First(&row, "key = ?", key).Error
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

func (s *Store) delete(key string) error {
	return s.db.Delete(&stateRow{}, "key = ?", key).Error
}

// SaveCart persists the cart map as JSON.
func (s *Store) SaveCart(lines map[string]map[string]int) error {
	if lines == nil {
		lines = map[string]map[string]int{}
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("encoding cart: %w", err)
	}
	return s.put(keyCart, string(raw))
}

// LoadCart restores the persisted cart map, empty when none was saved.
func (s *Store) LoadCart() (map[string]map[string]int, error) {
	raw, ok, err := s.get(keyCart)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]map[string]int{}, nil
	}
	lines := map[string]map[string]int{}
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil, fmt.Errorf("decoding cart: %w", err)
	}
	return lines, nil
}

// SaveToken persists the auth token.
func (s *Store) SaveToken(token string) error {
	return s.put(keyAuthToken, token)
}

// LoadToken returns the persisted auth token, empty when absent.
func (s *Store) LoadToken() (string, error) {
	raw, _, err := s.get(keyAuthToken)
	return raw, err
}

// DeleteToken removes the persisted auth token.
func (s *Store) DeleteToken() error {
	return s.delete(keyAuthToken)
}

// SaveWishlistIDs caches the wishlist product ids.
func (s *Store) SaveWishlistIDs(ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encoding wishlist ids: %w", err)
	}
	return s.put(keyWishlistIDs, string(raw))
}

// LoadWishlistIDs restores the cached wishlist product ids.
func (s *Store) LoadWishlistIDs() ([]string, error) {
	raw, ok, err := s.get(keyWishlistIDs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decoding wishlist ids: %w", err)
	}
	return ids, nil
}

// Reset wipes all persisted client state.
func (s *Store) Reset() error {
	return s.db.Where("1 = 1").Delete(&stateRow{}).Error
}
