//go:build !wasm
// +build !wasm

package gorm

import "time"

// CredentialModel is the GORM model for one cached credential value
type CredentialModel struct {
	Scope     string    `gorm:"primaryKey;size:255"`
	Name      string    `gorm:"primaryKey;size:64"`
	Value     string    `gorm:"type:text"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (CredentialModel) TableName() string {
	return "client_credentials"
}
