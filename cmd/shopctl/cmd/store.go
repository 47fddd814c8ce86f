package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"cloud.google.com/go/datastore"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/panyam/shopauth"
	"github.com/panyam/shopauth/client"
	bboltstore "github.com/panyam/shopauth/client/stores/bbolt"
	fsstore "github.com/panyam/shopauth/client/stores/fs"
	gaestore "github.com/panyam/shopauth/client/stores/gae"
	gormstore "github.com/panyam/shopauth/client/stores/gorm"
	"github.com/panyam/shopauth/client/stores/memory"
	redisstore "github.com/panyam/shopauth/client/stores/redis"
	"github.com/panyam/shopauth/internal/config"
)

// openStore returns a credential store whose durable backend is the configured
// one and whose session scope lives for this process only
func openStore(ctx context.Context, cfg *config.Config) (*client.CredentialStore, func() error, error) {
	durable, closer, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if durable == nil {
		return client.NewCredentialStore(memory.NewBackend()), closer, nil
	}
	return client.NewCredentialStore(durable, memory.NewBackend()), closer, nil
}

func openBackend(ctx context.Context, cfg *config.Config) (shopauth.Backend, func() error, error) {
	noop := func() error { return nil }
	scope, err := serverScope(cfg.BaseURL)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Store.Type {
	case config.StoreMemory:
		return nil, noop, nil

	case config.StoreFS:
		s, err := fsstore.NewFSStore(cfg.Store.Path, "shopauth")
		if err != nil {
			return nil, nil, err
		}
		b, err := s.ForServer(cfg.BaseURL)
		if err != nil {
			return nil, nil, err
		}
		return b, noop, nil

	case config.StoreBBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0700); err != nil {
			return nil, nil, err
		}
		b, err := bboltstore.NewBackendFromFile(cfg.Store.Path, scope, nil)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil

	case config.StoreRedis:
		r := cfg.Store.Redis
		prefix := r.Prefix
		if prefix == "" {
			prefix = redisstore.DefaultPrefix
		}
		b, err := redisstore.New(ctx, redisstore.Config{
			Addr:     r.Addr,
			Username: r.Username,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   prefix + scope + ":",
			TTL:      r.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil

	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0700); err != nil {
			return nil, nil, err
		}
		db, err := gorm.Open(sqlite.Open(cfg.Store.Path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, nil, err
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return gormstore.NewBackend(db, scope), sqlDB.Close, nil

	case config.StoreDatastore:
		dsClient, err := datastore.NewClient(ctx, cfg.Store.Datastore.ProjectID)
		if err != nil {
			return nil, nil, err
		}
		return gaestore.NewBackend(dsClient, cfg.Store.Datastore.Namespace, scope), dsClient.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
}

// serverScope partitions shared stores by API host
func serverScope(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid base URL %q: no host", baseURL)
	}
	return u.Host, nil
}
