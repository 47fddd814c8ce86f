//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	"github.com/panyam/shopauth"
)

// KindCredential is the Datastore kind holding credential values
const KindCredential = "ClientCredential"

// Backend implements shopauth.Backend using Google Cloud Datastore
type Backend struct {
	client    *datastore.Client
	namespace string
	scope     string
}

var _ shopauth.Backend = (*Backend)(nil)

// NewBackend creates a new Datastore-backed Backend. scope partitions values
// within the namespace, usually by server URL.
func NewBackend(client *datastore.Client, namespace, scope string) *Backend {
	return &Backend{
		client:    client,
		namespace: namespace,
		scope:     scope,
	}
}

func (b *Backend) namespacedKey(name string) *datastore.Key {
	key := datastore.NameKey(KindCredential, b.scope+"|"+name, nil)
	key.Namespace = b.namespace
	return key
}

func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	var entity CredentialEntity
	err := b.client.Get(ctx, b.namespacedKey(key), &entity)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entity.Value, true, nil
}

func (b *Backend) Set(ctx context.Context, key, value string) error {
	dsKey := b.namespacedKey(key)
	entity := &CredentialEntity{
		Key:       dsKey,
		Scope:     b.scope,
		Name:      key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	_, err := b.client.Put(ctx, dsKey, entity)
	return err
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	// Datastore deletes are idempotent
	return b.client.Delete(ctx, b.namespacedKey(key))
}

func (b *Backend) scopeQuery() *datastore.Query {
	query := datastore.NewQuery(KindCredential).
		FilterField("scope", "=", b.scope)
	if b.namespace != "" {
		query = query.Namespace(b.namespace)
	}
	return query
}

// Keys returns the credential names stored in this scope
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	var names []string
	it := b.client.Run(ctx, b.scopeQuery())
	for {
		var entity CredentialEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, entity.Name)
	}
	return names, nil
}

// ClearScope removes every value in this scope
func (b *Backend) ClearScope(ctx context.Context) error {
	var keys []*datastore.Key
	it := b.client.Run(ctx, b.scopeQuery().KeysOnly())
	for {
		key, err := it.Next(nil)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil
	}
	return b.client.DeleteMulti(ctx, keys)
}
