package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/terra-clan/assessment-engine/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 25 // default
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 2
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Pool exposes the pool for migrations
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// UpsertAssessment inserts or replaces an assessment document.
// The owner of an existing record is never changed.
func (r *PostgresRepository) UpsertAssessment(ctx context.Context, st *models.AssessmentState, ownerID string) error {
	document, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal assessment: %w", err)
	}

	query := `
		INSERT INTO assessments (id, owner_id, context_key, country, base, evaluation_month, status, score, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE
		SET context_key = EXCLUDED.context_key,
		    country = EXCLUDED.country,
		    base = EXCLUDED.base,
		    evaluation_month = EXCLUDED.evaluation_month,
		    status = EXCLUDED.status,
		    score = EXCLUDED.score,
		    document = EXCLUDED.document,
		    updated_at = EXCLUDED.updated_at
	`

	_, err = r.pool.Exec(ctx, query,
		st.ID,
		ownerID,
		st.Key(),
		st.Context.Country,
		st.Context.Base,
		st.Context.EvaluationMonth,
		string(st.Status),
		nullInt(st.Score),
		document,
		st.CreatedAt,
		st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert assessment: %w", err)
	}

	return nil
}

// GetAssessment retrieves an assessment by ID
func (r *PostgresRepository) GetAssessment(ctx context.Context, id string) (*StoredAssessment, error) {
	query := `SELECT owner_id, document FROM assessments WHERE id = $1`

	var ownerID string
	var document []byte
	err := r.pool.QueryRow(ctx, query, id).Scan(&ownerID, &document)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	st, err := decodeState(id, document)
	if err != nil {
		return nil, err
	}

	return &StoredAssessment{State: st, OwnerID: ownerID}, nil
}

// ListAssessments returns assessments matching the filter, most recent first
func (r *PostgresRepository) ListAssessments(ctx context.Context, filter AssessmentFilter) ([]*models.AssessmentState, error) {
	query := `
		SELECT id, document
		FROM assessments
		WHERE 1=1
	`
	args := make([]interface{}, 0)
	argNum := 1

	if filter.OwnerID != "" {
		query += fmt.Sprintf(" AND owner_id = $%d", argNum)
		args = append(args, filter.OwnerID)
		argNum++
	}

	if filter.Countries != nil {
		query += fmt.Sprintf(" AND country = ANY($%d::text[])", argNum)
		args = append(args, pq.Array(filter.Countries))
		argNum++
	}

	if filter.UpdatedAfter != nil {
		query += fmt.Sprintf(" AND updated_at > $%d", argNum)
		args = append(args, *filter.UpdatedAfter)
		argNum++
	}

	if len(filter.ExcludeIDs) > 0 {
		query += fmt.Sprintf(" AND NOT (id = ANY($%d::text[]))", argNum)
		args = append(args, pq.Array(filter.ExcludeIDs))
		argNum++
	}

	query += " ORDER BY updated_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer rows.Close()

	states := make([]*models.AssessmentState, 0)
	for rows.Next() {
		var id string
		var document []byte
		if err := rows.Scan(&id, &document); err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		st, err := decodeState(id, document)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assessments: %w", err)
	}

	return states, nil
}

// DeleteAssessment removes an assessment
func (r *PostgresRepository) DeleteAssessment(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM assessments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete assessment: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: assessment %s", ErrNotFound, id)
	}

	return nil
}

// CreateUser inserts a user
func (r *PostgresRepository) CreateUser(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (id, name, email, role, assigned_countries, assigned_country, assigned_base, api_key, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5::text[], '{}'), $6, $7, $8, $9)
		ON CONFLICT (api_key) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		u.ID,
		u.Name,
		nullString(u.Email),
		string(u.Role),
		pq.Array(u.AssignedCountries),
		nullString(u.AssignedCountry),
		nullString(u.AssignedBase),
		u.APIKey,
		u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByAPIKey retrieves a user by API key
func (r *PostgresRepository) GetUserByAPIKey(ctx context.Context, apiKey string) (*models.User, error) {
	query := `
		SELECT id, name, email, role, assigned_countries, assigned_country, assigned_base, api_key, created_at, last_seen_at
		FROM users
		WHERE api_key = $1
	`

	var u models.User
	var role string
	var email, country, base sql.NullString
	var lastSeenAt sql.NullTime

	err := r.pool.QueryRow(ctx, query, apiKey).Scan(
		&u.ID,
		&u.Name,
		&email,
		&role,
		&u.AssignedCountries,
		&country,
		&base,
		&u.APIKey,
		&u.CreatedAt,
		&lastSeenAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	u.Role = models.Role(role)
	u.Email = email.String
	u.AssignedCountry = country.String
	u.AssignedBase = base.String
	if lastSeenAt.Valid {
		u.LastSeenAt = &lastSeenAt.Time
	}

	return &u, nil
}

// UpdateUserLastSeen updates the last_seen_at timestamp
func (r *PostgresRepository) UpdateUserLastSeen(ctx context.Context, apiKey string) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_seen_at = NOW() WHERE api_key = $1`, apiKey)
	if err != nil {
		return fmt.Errorf("failed to update user last seen: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
