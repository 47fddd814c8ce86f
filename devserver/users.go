package devserver

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/panyam/shopauth"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

// User is a storefront account
type User struct {
	ID           string
	Name         string
	Email        string
	Phone        string
	PasswordHash string
	OTPSecret    string
	Verified     bool
	CreatedAt    time.Time
}

// Profile returns the public view sent to clients
func (u *User) Profile() map[string]any {
	out := map[string]any{
		"id":       u.ID,
		"name":     u.Name,
		"email":    u.Email,
		"verified": u.Verified,
	}
	if u.Phone != "" {
		out["phone"] = u.Phone
	}
	return out
}

// UserStore persists accounts. Emails are matched case-insensitively.
type UserStore interface {
	CreateUser(u *User) error
	GetUserByID(id string) (*User, error)
	GetUserByEmail(email string) (*User, error)
	SaveUser(u *User) error
}

// MemoryUserStore is a process-local UserStore
type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (m *MemoryUserStore) CreateUser(u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := m.byEmail[key]; ok {
		return ErrEmailTaken
	}
	copied := *u
	m.byID[u.ID] = &copied
	m.byEmail[key] = u.ID
	return nil
}

func (m *MemoryUserStore) GetUserByID(id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *MemoryUserStore) GetUserByEmail(email string) (*User, error) {
	m.mu.RLock()
	id, ok := m.byEmail[strings.ToLower(email)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrUserNotFound
	}
	return m.GetUserByID(id)
}

func (m *MemoryUserStore) SaveUser(u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[u.ID]; !ok {
		return ErrUserNotFound
	}
	copied := *u
	m.byID[u.ID] = &copied
	return nil
}

// CreateUser hashes the registration's password and stores a new account
func (s *Server) CreateUser(reg shopauth.Registration) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	u := &User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(reg.Name),
		Email:        strings.TrimSpace(reg.Email),
		Phone:        reg.Phone,
		PasswordHash: string(hash),
		Verified:     !s.Config.RequireOTP,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.Users.CreateUser(u); err != nil {
		return nil, err
	}
	s.Logger.Info("created user", "id", u.ID, "email", u.Email)
	return u, nil
}

// validateCredentials returns the account for email if password matches
func (s *Server) validateCredentials(email, password string) (*User, error) {
	u, err := s.Users.GetUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}
	return u, nil
}
