//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
)

// CredentialEntity is the Datastore entity for a cached credential value
// Key format: Scope + "|" + Key
type CredentialEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	Scope     string         `datastore:"scope"`
	Name      string         `datastore:"name"`
	Value     string         `datastore:"value,noindex"`
	UpdatedAt time.Time      `datastore:"updated_at"`
}
