package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLBackend stores data through database/sql. Supported drivers are
// "sqlite" (modernc.org/sqlite) and "postgres" (lib/pq).
type SQLBackend struct {
	db     *sql.DB
	driver string
}

// OpenSQL opens the database and creates the schema if needed.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLBackend, error) {
	switch driver {
	case "sqlite":
		if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create directory: %w", err)
			}
		}
	case "postgres":
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite" {
		// A single writer avoids SQLITE_BUSY under concurrent requests.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := &SQLBackend{db: db, driver: driver}
	if err := b.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return b, nil
}

func (b *SQLBackend) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			expires_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,
		`CREATE TABLE IF NOT EXISTS cities (
			user_id TEXT NOT NULL,
			name_key TEXT NOT NULL,
			name TEXT NOT NULL,
			country TEXT NOT NULL DEFAULT '',
			lat DOUBLE PRECISION NOT NULL,
			lon DOUBLE PRECISION NOT NULL,
			monitored BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (user_id, name_key)
		)`,
	}
	for _, stmt := range statements {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders into $n for postgres.
func (b *SQLBackend) rebind(query string) string {
	if b.driver != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *SQLBackend) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return b.db.ExecContext(ctx, b.rebind(query), args...)
}

func (b *SQLBackend) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return b.db.QueryRowContext(ctx, b.rebind(query), args...)
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (b *SQLBackend) CreateUser(ctx context.Context, u User) error {
	var n int
	if err := b.queryRow(ctx, `SELECT COUNT(*) FROM users WHERE email = ?`, u.Email).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return ErrEmailTaken
	}
	_, err := b.exec(ctx,
		`INSERT INTO users (id, name, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.PasswordHash, millis(u.CreatedAt))
	return err
}

func (b *SQLBackend) scanUser(row *sql.Row) (User, error) {
	var (
		u       User
		created int64
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &created); err != nil {
		return User{}, notFound(err)
	}
	u.CreatedAt = fromMillis(created)
	return u, nil
}

func (b *SQLBackend) UserByID(ctx context.Context, id string) (User, error) {
	return b.scanUser(b.queryRow(ctx,
		`SELECT id, name, email, password_hash, created_at FROM users WHERE id = ?`, id))
}

func (b *SQLBackend) UserByEmail(ctx context.Context, email string) (User, error) {
	return b.scanUser(b.queryRow(ctx,
		`SELECT id, name, email, password_hash, created_at FROM users WHERE email = ?`, email))
}

func (b *SQLBackend) CreateSession(ctx context.Context, s Session) error {
	_, err := b.exec(ctx,
		`INSERT INTO sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		s.Token, s.UserID, millis(s.CreatedAt), millis(s.ExpiresAt))
	return err
}

func (b *SQLBackend) Session(ctx context.Context, token string) (Session, error) {
	var (
		s                Session
		created, expires int64
	)
	err := b.queryRow(ctx,
		`SELECT token, user_id, created_at, expires_at FROM sessions WHERE token = ?`, token).
		Scan(&s.Token, &s.UserID, &created, &expires)
	if err != nil {
		return Session{}, notFound(err)
	}
	s.CreatedAt, s.ExpiresAt = fromMillis(created), fromMillis(expires)
	return s, nil
}

func (b *SQLBackend) DeleteSession(ctx context.Context, token string) error {
	res, err := b.exec(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (b *SQLBackend) LiveSessions(ctx context.Context, userID string, now time.Time) (int, error) {
	var n int
	err := b.queryRow(ctx,
		`SELECT COUNT(*) FROM sessions WHERE user_id = ? AND expires_at > ?`, userID, millis(now)).Scan(&n)
	return n, err
}

func (b *SQLBackend) ExpiredSessions(ctx context.Context, now time.Time) ([]Session, error) {
	rows, err := b.db.QueryContext(ctx, b.rebind(
		`SELECT token, user_id, created_at, expires_at FROM sessions WHERE expires_at <= ?`), millis(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s                Session
			created, expires int64
		)
		if err := rows.Scan(&s.Token, &s.UserID, &created, &expires); err != nil {
			return nil, err
		}
		s.CreatedAt, s.ExpiresAt = fromMillis(created), fromMillis(expires)
		out = append(out, s)
	}
	return out, rows.Err()
}

const cityColumns = `name, country, lat, lon, monitored, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCity(row rowScanner) (City, error) {
	var (
		c                City
		created, updated int64
	)
	if err := row.Scan(&c.Name, &c.Country, &c.Lat, &c.Lon, &c.Monitored, &created, &updated); err != nil {
		return City{}, err
	}
	c.CreatedAt, c.UpdatedAt = fromMillis(created), fromMillis(updated)
	return c, nil
}

func (b *SQLBackend) InsertCity(ctx context.Context, userID string, c City) error {
	var n int
	if err := b.queryRow(ctx,
		`SELECT COUNT(*) FROM cities WHERE user_id = ? AND name_key = ?`, userID, cityKey(c.Name)).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return ErrCityExists
	}
	_, err := b.exec(ctx,
		`INSERT INTO cities (user_id, name_key, `+cityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, cityKey(c.Name), c.Name, c.Country, c.Lat, c.Lon, c.Monitored, millis(c.CreatedAt), millis(c.UpdatedAt))
	return err
}

func (b *SQLBackend) UpdateCity(ctx context.Context, userID string, c City) error {
	res, err := b.exec(ctx,
		`UPDATE cities SET country = ?, lat = ?, lon = ?, monitored = ?, updated_at = ? WHERE user_id = ? AND name_key = ?`,
		c.Country, c.Lat, c.Lon, c.Monitored, millis(c.UpdatedAt), userID, cityKey(c.Name))
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (b *SQLBackend) DeleteCity(ctx context.Context, userID, name string) (City, error) {
	c, err := b.City(ctx, userID, name)
	if err != nil {
		return City{}, err
	}
	res, err := b.exec(ctx, `DELETE FROM cities WHERE user_id = ? AND name_key = ?`, userID, cityKey(name))
	if err != nil {
		return City{}, err
	}
	if err := requireAffected(res); err != nil {
		return City{}, err
	}
	return c, nil
}

func (b *SQLBackend) City(ctx context.Context, userID, name string) (City, error) {
	c, err := scanCity(b.queryRow(ctx,
		`SELECT `+cityColumns+` FROM cities WHERE user_id = ? AND name_key = ?`, userID, cityKey(name)))
	if err != nil {
		return City{}, notFound(err)
	}
	return c, nil
}

func (b *SQLBackend) Cities(ctx context.Context, userID string) ([]City, error) {
	rows, err := b.db.QueryContext(ctx, b.rebind(
		`SELECT `+cityColumns+` FROM cities WHERE user_id = ? ORDER BY name_key`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []City
	for rows.Next() {
		c, err := scanCity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (b *SQLBackend) ActiveCities(ctx context.Context, now time.Time) ([]UserCity, error) {
	rows, err := b.db.QueryContext(ctx, b.rebind(
		`SELECT c.user_id, c.name, c.country, c.lat, c.lon, c.monitored, c.created_at, c.updated_at
		FROM cities c
		WHERE EXISTS (SELECT 1 FROM sessions s WHERE s.user_id = c.user_id AND s.expires_at > ?)
		ORDER BY c.user_id, c.name_key`), millis(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserCity
	for rows.Next() {
		var (
			uc               UserCity
			created, updated int64
		)
		c := &uc.City
		if err := rows.Scan(&uc.UserID, &c.Name, &c.Country, &c.Lat, &c.Lon, &c.Monitored, &created, &updated); err != nil {
			return nil, err
		}
		c.CreatedAt, c.UpdatedAt = fromMillis(created), fromMillis(updated)
		out = append(out, uc)
	}
	return out, rows.Err()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *SQLBackend) Close() error {
	return b.db.Close()
}
