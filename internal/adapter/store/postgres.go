package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/arturoeanton/codelens-ingest/internal/domain"
	"github.com/arturoeanton/codelens-ingest/internal/port"
	_ "github.com/lib/pq"
)

// PostgresStore handles all relational database operations.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time interface checks.
var (
	_ port.InstallationStore = (*PostgresStore)(nil)
	_ port.RepositoryStore   = (*PostgresStore)(nil)
	_ port.FileStore         = (*PostgresStore)(nil)
	_ port.DeliveryLog       = (*PostgresStore)(nil)
	_ port.UserStore         = (*PostgresStore)(nil)
)

// NewPostgresStore opens a connection pool and returns a store instance.
// The caller owns the returned store and must Close it.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing handle.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// --- Users ---

// UpsertUser inserts or updates a user by provider + provider_id.
func (s *PostgresStore) UpsertUser(ctx context.Context, u *domain.User) (*domain.User, error) {
	query := `
		INSERT INTO users (email, name, avatar_url, provider, provider_id, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, provider_id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			avatar_url = EXCLUDED.avatar_url,
			updated_at = NOW()
		RETURNING id, email, name, avatar_url, provider, provider_id, role, created_at, updated_at`

	role := u.Role
	if role == "" {
		role = "user"
	}

	var user domain.User
	err := s.db.QueryRowContext(ctx, query,
		u.Email, u.Name, u.AvatarURL, u.Provider, u.ProviderID, role,
	).Scan(
		&user.ID, &user.Email, &user.Name, &user.AvatarURL,
		&user.Provider, &user.ProviderID, &user.Role,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return &user, nil
}

// FindUserByGitHubID returns the user who signed in with the given GitHub account.
func (s *PostgresStore) FindUserByGitHubID(ctx context.Context, githubID int64) (*domain.User, error) {
	query := `SELECT id, email, name, avatar_url, provider, provider_id, role, created_at, updated_at
	          FROM users WHERE provider = $1 AND provider_id = $2
	          LIMIT 1`

	var user domain.User
	err := s.db.QueryRowContext(ctx, query, domain.ProviderGitHub, strconv.FormatInt(githubID, 10)).Scan(
		&user.ID, &user.Email, &user.Name, &user.AvatarURL,
		&user.Provider, &user.ProviderID, &user.Role,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user by github id: %w", err)
	}
	return &user, nil
}

// --- Webhook deliveries ---

// RecordDelivery implements port.DeliveryLog.
func (s *PostgresStore) RecordDelivery(ctx context.Context, d domain.WebhookDelivery) error {
	query := `INSERT INTO webhook_deliveries (delivery_id, event, action, status_code, duration_ms, remote_ip)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.db.ExecContext(ctx, query,
		d.DeliveryID, d.Event, d.Action, d.StatusCode, d.DurationMS, d.RemoteIP,
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns the most recent webhook deliveries, newest first,
// optionally filtered by event type.
func (s *PostgresStore) ListDeliveries(ctx context.Context, limit int, event string) ([]domain.WebhookDelivery, error) {
	query := `SELECT delivery_id, event, action, status_code, duration_ms, remote_ip, created_at
	          FROM webhook_deliveries`
	args := []interface{}{}
	if event != "" {
		args = append(args, event)
		query += fmt.Sprintf(" WHERE event = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookDelivery
	for rows.Next() {
		var d domain.WebhookDelivery
		if err := rows.Scan(&d.DeliveryID, &d.Event, &d.Action, &d.StatusCode, &d.DurationMS, &d.RemoteIP, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
