package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbd888/fraudsight/internal/pagination"
)

// PostgresStore persists assessments in PostgreSQL. Schema lives in the
// goose migrations under migrations/.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the assessments table if it doesn't exist. Production
// deployments run the goose migrations instead; this covers dev setups.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS assessments (
			id              VARCHAR(40) PRIMARY KEY,
			transaction_id  VARCHAR(128) NOT NULL,
			user_key        VARCHAR(254) NOT NULL DEFAULT '',
			composite_score NUMERIC(5,2) NOT NULL CHECK (composite_score >= 0),
			risk_level      VARCHAR(10) NOT NULL CHECK (risk_level IN ('LOW', 'MEDIUM', 'HIGH', 'CRITICAL')),
			factors         JSONB NOT NULL DEFAULT '[]',
			geo_facts       JSONB NOT NULL DEFAULT '{}',
			velocity        JSONB NOT NULL DEFAULT '{}',
			evaluated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_assessments_user_key
			ON assessments (user_key, evaluated_at DESC);

		CREATE INDEX IF NOT EXISTS idx_assessments_high_risk
			ON assessments (evaluated_at DESC) WHERE risk_level IN ('HIGH', 'CRITICAL');
	`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, a *Assessment) error {
	factorsJSON, err := json.Marshal(a.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}
	geoJSON, err := json.Marshal(a.GeoFacts)
	if err != nil {
		return fmt.Errorf("failed to marshal geo facts: %w", err)
	}
	velJSON, err := json.Marshal(a.Velocity)
	if err != nil {
		return fmt.Errorf("failed to marshal velocity snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assessments (id, transaction_id, user_key, composite_score, risk_level, factors, geo_facts, velocity, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		a.ID,
		a.TransactionID,
		a.UserKey,
		a.CompositeScore,
		string(a.RiskLevel),
		factorsJSON,
		geoJSON,
		velJSON,
		a.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userKey string, limit int, before *pagination.Cursor) ([]*Assessment, error) {
	query := `
		SELECT id, transaction_id, user_key, composite_score, risk_level, factors, geo_facts, velocity, evaluated_at
		FROM assessments
		WHERE user_key = $1
		ORDER BY evaluated_at DESC, id DESC
		LIMIT $2
	`
	args := []any{userKey, limit}
	if before != nil {
		query = `
			SELECT id, transaction_id, user_key, composite_score, risk_level, factors, geo_facts, velocity, evaluated_at
			FROM assessments
			WHERE user_key = $1 AND (evaluated_at, id) < ($3, $4)
			ORDER BY evaluated_at DESC, id DESC
			LIMIT $2
		`
		args = append(args, before.CreatedAt, before.ID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		var a Assessment
		var factorsJSON, geoJSON, velJSON []byte
		var evaluatedAt time.Time

		if err := rows.Scan(&a.ID, &a.TransactionID, &a.UserKey, &a.CompositeScore, &a.RiskLevel, &factorsJSON, &geoJSON, &velJSON, &evaluatedAt); err != nil {
			continue
		}
		a.EvaluatedAt = evaluatedAt
		_ = json.Unmarshal(factorsJSON, &a.Factors)
		_ = json.Unmarshal(geoJSON, &a.GeoFacts)
		_ = json.Unmarshal(velJSON, &a.Velocity)
		result = append(result, &a)
	}
	return result, rows.Err()
}
