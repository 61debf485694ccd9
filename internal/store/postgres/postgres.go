// Package postgres is the PostgreSQL store.Store. Each InTenant call is one
// transaction with app.current_tenant_id set for row level security, and
// every tenant-scoped statement also filters on tenant_id explicitly.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"itam-api/internal/models"
	"itam-api/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

// Store is a PostgreSQL-backed store.Store
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open connects with the pgx driver and pings the database
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(db), nil
}

// New wraps an open database
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the pool for migrations and health checks
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() {
	s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

const tenantColumns = `id, name, slug, tier, is_active, max_assets, max_users, max_storage_bytes,
	asset_count, user_count, storage_bytes, created_at, updated_at`

func scanTenant(row rowScanner) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Tier, &t.IsActive,
		&t.Limits.MaxAssets, &t.Limits.MaxUsers, &t.Limits.MaxStorageBytes,
		&t.Usage.Assets, &t.Usage.Users, &t.Usage.StorageBytes, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (s *Store) CreateTenant(ctx context.Context, t *models.Tenant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, slug, tier, is_active, max_assets, max_users, max_storage_bytes,
		                     asset_count, user_count, storage_bytes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.Name, t.Slug, t.Tier, t.IsActive, t.Limits.MaxAssets, t.Limits.MaxUsers, t.Limits.MaxStorageBytes,
		t.Usage.Assets, t.Usage.Users, t.Usage.StorageBytes, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("tenant %q: %w", t.Slug, mapErr(err))
	}
	return nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	return scanTenant(s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id::text = $1`, id))
}

func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	return scanTenant(s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug))
}

func (s *Store) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Tenant{}
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) SetTenantActive(ctx context.Context, id string, active bool) (*models.Tenant, error) {
	return scanTenant(s.db.QueryRowContext(ctx, `
		UPDATE tenants SET is_active = $2, updated_at = now()
		WHERE id::text = $1
		RETURNING `+tenantColumns, id, active))
}

func (s *Store) UpdateTenantPlan(ctx context.Context, id string, tier models.Tier, limits models.Limits) (*models.Tenant, bool, error) {
	t, err := scanTenant(s.db.QueryRowContext(ctx, `
		UPDATE tenants
		SET tier = $2, max_assets = $3, max_users = $4, max_storage_bytes = $5, updated_at = now()
		WHERE id::text = $1 AND asset_count <= $3 AND user_count <= $4 AND storage_bytes <= $5
		RETURNING `+tenantColumns, id, tier, limits.MaxAssets, limits.MaxUsers, limits.MaxStorageBytes))
	if errors.Is(err, models.ErrNotFound) {
		cur, err := s.GetTenant(ctx, id)
		return cur, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

// usageColumns maps a resource kind to its counter and limit columns
var usageColumns = map[models.ResourceKind][2]string{
	models.ResourceAsset:        {"asset_count", "max_assets"},
	models.ResourceUser:         {"user_count", "max_users"},
	models.ResourceStorageBytes: {"storage_bytes", "max_storage_bytes"},
}

func (s *Store) ReserveUsage(ctx context.Context, tenantID string, kind models.ResourceKind, delta int64) (*models.Tenant, bool, error) {
	cols, ok := usageColumns[kind]
	if !ok {
		return nil, false, models.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown resource kind %q", kind)}
	}
	// a single conditional UPDATE is the increment-with-ceiling check
	t, err := scanTenant(s.db.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE tenants SET %[1]s = %[1]s + $2, updated_at = now()
		WHERE id::text = $1 AND is_active AND %[1]s + $2 <= %[2]s
		RETURNING `+tenantColumns, cols[0], cols[1]), tenantID, delta))
	if errors.Is(err, models.ErrNotFound) {
		cur, err := s.GetTenant(ctx, tenantID)
		return cur, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func (s *Store) ReleaseUsage(ctx context.Context, tenantID string, kind models.ResourceKind, delta int64) (*models.Tenant, error) {
	cols, ok := usageColumns[kind]
	if !ok {
		return nil, models.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown resource kind %q", kind)}
	}
	return scanTenant(s.db.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE tenants SET %[1]s = GREATEST(%[1]s - $2, 0), updated_at = now()
		WHERE id::text = $1
		RETURNING `+tenantColumns, cols[0]), tenantID, delta))
}

func (s *Store) InTenant(ctx context.Context, tenantID string, fn func(store.Scope) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE id::text = $1)`, tenantID).Scan(&exists); err != nil {
		return mapErr(err)
	}
	if !exists {
		return models.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `SELECT set_config('app.current_tenant_id', $1, true)`, tenantID); err != nil {
		return fmt.Errorf("set tenant: %w", err)
	}

	if err := fn(&scope{tx: tx, tenantID: tenantID}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapErr(err)
	}
	return nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (s *Store) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET last_login_at = $2 WHERE id::text = $1`, userID, at)
	return affected(res, err)
}

func (s *Store) PendingNotifications(ctx context.Context, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE delivered_at IS NULL
		ORDER BY created_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

func (s *Store) MarkNotificationsDelivered(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET delivered_at = $2
		WHERE id = ANY($1::uuid[]) AND delivered_at IS NULL`, pq.Array(ids), at)
	return mapErr(err)
}

// mapErr translates driver errors into the models error taxonomy
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, models.ErrConflict)
		case "23503":
			return fmt.Errorf("missing reference %s: %w", pgErr.ConstraintName, models.ErrConflict)
		case "23514":
			return models.ValidationError{Reason: "violates " + pgErr.ConstraintName}
		case "22P02":
			// malformed uuid in a lookup
			return models.ErrNotFound
		case "40001":
			return models.ErrVersionConflict
		}
	}
	return err
}

// affected turns a zero-row write into models.ErrNotFound
func affected(res sql.Result, err error) error {
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}
