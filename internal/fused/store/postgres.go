package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fuseid/internal/fused/models"
	id "fuseid/pkg/domain"
	dErrors "fuseid/pkg/domain-errors"
)

// PostgresStore persists fused snapshots in PostgreSQL. The externalized
// state is stored as a JSONB document; the columns the engine queries on
// (review and orphan flags) are denormalized for indexed filtering.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed snapshot store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schema creates the snapshot table if it does not exist.
func (s *PostgresStore) Schema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS fused_accounts (
			account_id      TEXT PRIMARY KEY,
			identity_link   TEXT NOT NULL DEFAULT '',
			pending_review  BOOLEAN NOT NULL DEFAULT FALSE,
			orphan          BOOLEAN NOT NULL DEFAULT FALSE,
			state           JSONB NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create fused_accounts table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, account id.AccountID, state models.ExternalState, now time.Time) error {
	if account.IsEmpty() {
		return dErrors.New(dErrors.CodeValidation, "account id is required")
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal fused state: %w", err)
	}
	query := `
		INSERT INTO fused_accounts (account_id, identity_link, pending_review, orphan, state, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id) DO UPDATE SET
			identity_link = EXCLUDED.identity_link,
			pending_review = EXCLUDED.pending_review,
			orphan = EXCLUDED.orphan,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		string(account), string(state.IdentityLink), state.Status.ActiveReviews, state.Status.Orphan, payload, now)
	if err != nil {
		return fmt.Errorf("save fused record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, account id.AccountID) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT account_id, state, updated_at FROM fused_accounts WHERE account_id = $1`, string(account))
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, dErrors.Newf(dErrors.CodeNotFound, "no fused record for account %s", account)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get fused record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	return s.query(ctx,
		`SELECT account_id, state, updated_at FROM fused_accounts ORDER BY account_id`)
}

func (s *PostgresStore) ListPendingReview(ctx context.Context) ([]Record, error) {
	return s.query(ctx,
		`SELECT account_id, state, updated_at FROM fused_accounts WHERE pending_review ORDER BY account_id`)
}

func (s *PostgresStore) SweepOrphans(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM fused_accounts WHERE orphan AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep orphan records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep orphan records: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fused records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fused record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list fused records: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		account string
		payload []byte
		rec     Record
	)
	if err := row.Scan(&account, &payload, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	rec.Account = id.AccountID(account)
	if err := json.Unmarshal(payload, &rec.State); err != nil {
		return Record{}, fmt.Errorf("unmarshal fused state: %w", err)
	}
	return rec, nil
}
