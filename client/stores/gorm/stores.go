//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/panyam/shopauth"
)

// AutoMigrate runs database migrations for the credential table
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&CredentialModel{})
}

// Backend implements shopauth.Backend using GORM.
// Values are partitioned by scope, usually the server URL.
type Backend struct {
	db    *gorm.DB
	scope string
}

var _ shopauth.Backend = (*Backend)(nil)

func NewBackend(db *gorm.DB, scope string) *Backend {
	return &Backend{db: db, scope: scope}
}

func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	var model CredentialModel
	err := b.db.WithContext(ctx).First(&model, "scope = ? AND name = ?", b.scope, key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return model.Value, true, nil
}

func (b *Backend) Set(ctx context.Context, key, value string) error {
	model := &CredentialModel{Scope: b.scope, Name: key, Value: value}
	return b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(model).Error
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	return b.db.WithContext(ctx).
		Where("scope = ? AND name = ?", b.scope, key).
		Delete(&CredentialModel{}).Error
}

// Keys returns the keys stored in this scope
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := b.db.WithContext(ctx).Model(&CredentialModel{}).
		Where("scope = ?", b.scope).
		Order("name").
		Pluck("name", &keys).Error
	return keys, err
}

// ClearScope removes every value in this scope
func (b *Backend) ClearScope(ctx context.Context) error {
	return b.db.WithContext(ctx).
		Where("scope = ?", b.scope).
		Delete(&CredentialModel{}).Error
}
