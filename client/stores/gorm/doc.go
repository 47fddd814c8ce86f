//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based durable Backend for the shopauth client.
// It supports any database that GORM supports (PostgreSQL, MySQL, SQLite, etc.)
// and suits deployments where several client processes share one credential cache.
//
// # Database Schema
//
// The package auto-migrates a single table:
//   - client_credentials: (scope, name) -> value rows
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	gormstore.AutoMigrate(db)
//	durable := gormstore.NewBackend(db, "https://shop.example.com")
package gorm
