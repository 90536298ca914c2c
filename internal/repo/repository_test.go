package repo

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordedEvent struct {
	Type   EventType
	UserID string
	City   string
}

type recordingListener struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (l *recordingListener) add(e recordedEvent) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *recordingListener) OnUserLoaded(u User) {
	l.add(recordedEvent{Type: EventUserLoaded, UserID: u.ID})
}
func (l *recordingListener) OnUserSignOut(u User) {
	l.add(recordedEvent{Type: EventUserSignOut, UserID: u.ID})
}
func (l *recordingListener) OnCityAdded(id string, c City) {
	l.add(recordedEvent{Type: EventCityAdded, UserID: id, City: c.Name})
}
func (l *recordingListener) OnCityUpdated(id string, c City) {
	l.add(recordedEvent{Type: EventCityUpdated, UserID: id, City: c.Name})
}
func (l *recordingListener) OnCityRemoved(id string, c City) {
	l.add(recordedEvent{Type: EventCityRemoved, UserID: id, City: c.Name})
}

func (l *recordingListener) Events() []recordedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recordedEvent(nil), l.events...)
}

func backends(t *testing.T) map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend { return NewMemoryBackend() },
		"sqlite": func(t *testing.T) Backend {
			b, err := OpenSQL(context.Background(), "sqlite", filepath.Join(t.TempDir(), "weatherapp.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = b.Close() })
			return b
		},
	}
}

func TestRepository_CityLifecycle(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := New(open(t), zaptest.NewLogger(t))
			l := &recordingListener{}
			r.SetListener(l)

			require.NoError(t, r.CreateUser(ctx, User{ID: "u1", Name: "Ana", Email: "Ana@Example.com", PasswordHash: "x"}))

			added, err := r.Add(ctx, "u1", City{Name: "  Recife ", Lat: -8.05, Lon: -34.9})
			require.NoError(t, err)
			assert.Equal(t, "Recife", added.Name)
			assert.False(t, added.CreatedAt.IsZero())

			_, err = r.Add(ctx, "u1", City{Name: "recife"})
			assert.ErrorIs(t, err, ErrCityExists)

			_, err = r.Add(ctx, "u1", City{Name: "Belo Horizonte", Lat: -19.9, Lon: -43.9})
			require.NoError(t, err)
			_, err = r.Add(ctx, "u1", City{Name: "Aracaju", Lat: -10.9, Lon: -37.0})
			require.NoError(t, err)

			cities, err := r.Cities(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, cities, 3)
			assert.Equal(t, []string{"Aracaju", "Belo Horizonte", "Recife"}, []string{cities[0].Name, cities[1].Name, cities[2].Name})

			updated, err := r.Update(ctx, "u1", City{Name: "RECIFE", Lat: -8.05, Lon: -34.9, Monitored: true})
			require.NoError(t, err)
			assert.Equal(t, "Recife", updated.Name, "stored name is kept")
			assert.True(t, updated.Monitored)

			got, err := r.City(ctx, "u1", "recife")
			require.NoError(t, err)
			assert.True(t, got.Monitored)
			assert.Equal(t, -8.05, got.Lat)

			_, err = r.Update(ctx, "u1", City{Name: "Lisbon"})
			assert.ErrorIs(t, err, ErrNotFound)

			removed, err := r.Remove(ctx, "u1", "Recife")
			require.NoError(t, err)
			assert.True(t, removed.Monitored)

			_, err = r.Remove(ctx, "u1", "Recife")
			assert.ErrorIs(t, err, ErrNotFound)

			// Other users never see u1's cities.
			other, err := r.Cities(ctx, "u2")
			require.NoError(t, err)
			assert.Empty(t, other)

			assert.Equal(t, []recordedEvent{
				{Type: EventCityAdded, UserID: "u1", City: "Recife"},
				{Type: EventCityAdded, UserID: "u1", City: "Belo Horizonte"},
				{Type: EventCityAdded, UserID: "u1", City: "Aracaju"},
				{Type: EventCityUpdated, UserID: "u1", City: "Recife"},
				{Type: EventCityRemoved, UserID: "u1", City: "Recife"},
			}, l.Events(), "failed mutations never reach the listener")
		})
	}
}

func TestRepository_UsersAndSessions(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := New(open(t), nil)
			now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
			r.now = func() time.Time { return now }
			l := &recordingListener{}
			r.SetListener(l)

			require.NoError(t, r.CreateUser(ctx, User{ID: "u1", Name: "Ana", Email: "ana@example.com", PasswordHash: "h"}))
			assert.ErrorIs(t, r.CreateUser(ctx, User{ID: "u2", Name: "Ana2", Email: "ANA@example.com", PasswordHash: "h"}), ErrEmailTaken)

			u, err := r.UserByEmail(ctx, " Ana@Example.COM ")
			require.NoError(t, err)
			assert.Equal(t, "u1", u.ID)

			_, err = r.UserByID(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, r.CreateSession(ctx, Session{Token: "live", UserID: "u1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))
			require.NoError(t, r.CreateSession(ctx, Session{Token: "old", UserID: "u1", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}))

			n, err := r.LiveSessions(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			expired, err := r.ExpiredSessions(ctx)
			require.NoError(t, err)
			require.Len(t, expired, 1)
			assert.Equal(t, "old", expired[0].Token)

			s, err := r.Session(ctx, "live")
			require.NoError(t, err)
			assert.Equal(t, now.Add(time.Hour), s.ExpiresAt)

			_, err = r.Add(ctx, "u1", City{Name: "Recife", Monitored: true})
			require.NoError(t, err)
			active, err := r.ActiveCities(ctx)
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.Equal(t, "u1", active[0].UserID)
			assert.True(t, active[0].City.Monitored)

			_, err = r.Add(ctx, "u1", City{Name: "Olinda"})
			require.NoError(t, err)
			monitored, err := r.MonitoredCities(ctx)
			require.NoError(t, err)
			require.Len(t, monitored, 1)
			assert.Equal(t, "Recife", monitored[0].City.Name)

			require.NoError(t, r.DeleteSession(ctx, "live"))
			assert.ErrorIs(t, r.DeleteSession(ctx, "live"), ErrNotFound)

			active, err = r.ActiveCities(ctx)
			require.NoError(t, err)
			assert.Empty(t, active)

			_, err = r.LoadUser(ctx, "u1")
			require.NoError(t, err)
			require.NoError(t, r.SignOut(ctx, "u1"))
			assert.Error(t, r.SignOut(ctx, "ghost"))

			events := l.Events()
			require.Len(t, events, 4)
			assert.Equal(t, EventUserLoaded, events[2].Type)
			assert.Equal(t, EventUserSignOut, events[3].Type)
		})
	}
}

func TestRepository_AddRequiresName(t *testing.T) {
	r := New(NewMemoryBackend(), nil)
	_, err := r.Add(context.Background(), "u1", City{Name: "   "})
	assert.Error(t, err)
}

func TestSQLBackend_Rebind(t *testing.T) {
	b := &SQLBackend{driver: "postgres"}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", b.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	b.driver = "sqlite"
	assert.Equal(t, "a = ?", b.rebind("a = ?"))
}

func TestOpenSQL_UnknownDriver(t *testing.T) {
	_, err := OpenSQL(context.Background(), "oracle", "x")
	assert.Error(t, err)
}
