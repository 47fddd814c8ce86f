//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore durable Backend for the shopauth
// client. It supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
// The package uses a single kind:
//   - ClientCredential: one entity per (scope, key), named "<scope>|<key>"
//
// # Namespacing
//
// Pass a namespace when creating the backend to isolate data between tenants:
//
//	durable := gae.NewBackend(client, "tenant-123", "https://shop.example.com")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	durable := gae.NewBackend(client, "", serverURL) // default namespace
package gae
