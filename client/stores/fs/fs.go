// Package fs provides a file system-based durable Backend for the shopauth client.
// One JSON file holds the values of every server the client has talked to; each
// server gets its own Backend view.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/panyam/shopauth"
)

// FSStore stores credential values as a JSON file on the filesystem
type FSStore struct {
	mu      sync.RWMutex
	path    string
	servers map[string]map[string]string
}

// credentialFile is the JSON structure stored on disk
type credentialFile struct {
	Servers map[string]map[string]string `json:"servers"`
}

// NewFSStore creates a new FS-based store.
// If path is empty, defaults to ~/.config/<appName>/credentials.json
func NewFSStore(path string, appName string) (*FSStore, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("could not determine config directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
		if appName == "" {
			appName = "shopauth"
		}
		path = filepath.Join(configDir, appName, "credentials.json")
	}

	store := &FSStore{
		path:    path,
		servers: make(map[string]map[string]string),
	}

	// Load existing values if file exists
	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return store, nil
}

// load reads values from disk
func (s *FSStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse credentials file: %w", err)
	}

	s.servers = file.Servers
	if s.servers == nil {
		s.servers = make(map[string]map[string]string)
	}

	return nil
}

// normalizeURL normalizes a server URL for use as a key
func normalizeURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	if u.Scheme == "" {
		u.Scheme = "https"
	}

	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

// ForServer returns the Backend holding values for serverURL.
// Any path in the URL is ignored.
func (s *FSStore) ForServer(serverURL string) (*ServerBackend, error) {
	key, err := normalizeURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &ServerBackend{store: s, server: key}, nil
}

// ListServers returns all server URLs with stored values
func (s *FSStore) ListServers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	servers := make([]string, 0, len(s.servers))
	for k := range s.servers {
		servers = append(servers, k)
	}
	sort.Strings(servers)
	return servers
}

// Path returns the path to the credentials file
func (s *FSStore) Path() string {
	return s.path
}

// saveLocked persists values to disk. Caller must hold s.mu.
func (s *FSStore) saveLocked() error {
	// Ensure directory exists with restricted permissions
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(credentialFile{Servers: s.servers}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}

	return writeAtomicFile(s.path, data)
}

// writeAtomicFile writes data to a file atomically by writing to a temp file first.
// os.CreateTemp creates the file with 0600 permissions.
func writeAtomicFile(path string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// ServerBackend is the shopauth.Backend view of one server's values.
// Every mutation is written through to disk immediately.
type ServerBackend struct {
	store  *FSStore
	server string
}

var _ shopauth.Backend = (*ServerBackend)(nil)

// Server returns the normalized server URL this backend is scoped to
func (b *ServerBackend) Server() string {
	return b.server
}

func (b *ServerBackend) Get(ctx context.Context, key string) (string, bool, error) {
	b.store.mu.RLock()
	defer b.store.mu.RUnlock()

	values, ok := b.store.servers[b.server]
	if !ok {
		return "", false, nil
	}
	v, ok := values[key]
	return v, ok, nil
}

func (b *ServerBackend) Set(ctx context.Context, key, value string) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	values, ok := b.store.servers[b.server]
	if !ok {
		values = make(map[string]string)
		b.store.servers[b.server] = values
	}
	values[key] = value
	return b.store.saveLocked()
}

func (b *ServerBackend) Delete(ctx context.Context, key string) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	values, ok := b.store.servers[b.server]
	if !ok {
		return nil
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	if len(values) == 0 {
		delete(b.store.servers, b.server)
	}
	return b.store.saveLocked()
}
