package repo

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps everything in process memory.
type MemoryBackend struct {
	mu       sync.RWMutex
	users    map[string]User
	byEmail  map[string]string
	sessions map[string]Session
	cities   map[string]map[string]City // user id -> city key -> city
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		users:    make(map[string]User),
		byEmail:  make(map[string]string),
		sessions: make(map[string]Session),
		cities:   make(map[string]map[string]City),
	}
}

func (m *MemoryBackend) CreateUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[u.Email]; ok {
		return ErrEmailTaken
	}
	m.users[u.ID] = u
	m.byEmail[u.Email] = u.ID
	return nil
}

func (m *MemoryBackend) UserByID(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryBackend) UserByEmail(_ context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[email]
	if !ok {
		return User{}, ErrNotFound
	}
	return m.users[id], nil
}

func (m *MemoryBackend) CreateSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Token] = s
	return nil
}

func (m *MemoryBackend) Session(_ context.Context, token string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[token]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryBackend) DeleteSession(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[token]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, token)
	return nil
}

func (m *MemoryBackend) LiveSessions(_ context.Context, userID string, now time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, s := range m.sessions {
		if s.UserID == userID && !s.Expired(now) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryBackend) ExpiredSessions(_ context.Context, now time.Time) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Session
	for _, s := range m.sessions {
		if s.Expired(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryBackend) InsertCity(_ context.Context, userID string, c City) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byKey, ok := m.cities[userID]
	if !ok {
		byKey = make(map[string]City)
		m.cities[userID] = byKey
	}
	key := cityKey(c.Name)
	if _, exists := byKey[key]; exists {
		return ErrCityExists
	}
	byKey[key] = c
	return nil
}

func (m *MemoryBackend) UpdateCity(_ context.Context, userID string, c City) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := cityKey(c.Name)
	if _, exists := m.cities[userID][key]; !exists {
		return ErrNotFound
	}
	m.cities[userID][key] = c
	return nil
}

func (m *MemoryBackend) DeleteCity(_ context.Context, userID, name string) (City, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := cityKey(name)
	c, exists := m.cities[userID][key]
	if !exists {
		return City{}, ErrNotFound
	}
	delete(m.cities[userID], key)
	return c, nil
}

func (m *MemoryBackend) City(_ context.Context, userID, name string) (City, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, exists := m.cities[userID][cityKey(name)]
	if !exists {
		return City{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryBackend) Cities(_ context.Context, userID string) ([]City, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]City, 0, len(m.cities[userID]))
	for _, c := range m.cities[userID] {
		out = append(out, c)
	}
	return out, nil
}

func (m *MemoryBackend) ActiveCities(_ context.Context, now time.Time) ([]UserCity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := make(map[string]bool)
	for _, s := range m.sessions {
		if !s.Expired(now) {
			active[s.UserID] = true
		}
	}

	var out []UserCity
	for userID := range active {
		for _, c := range m.cities[userID] {
			out = append(out, UserCity{UserID: userID, City: c})
		}
	}
	return out, nil
}

func (m *MemoryBackend) Close() error { return nil }
