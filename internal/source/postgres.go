package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fuseid/internal/fused/models"
	id "fuseid/pkg/domain"
	dErrors "fuseid/pkg/domain-errors"
)

// PostgresSource reads accounts and identities from the mirror tables the
// connector jobs populate. Implements both AccountSource and IdentitySource.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a PostgreSQL-backed source reader.
func NewPostgres(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

const accountColumns = `id, source, attributes, identity_ref, disabled, last_modified`

func (s *PostgresSource) GetAccount(ctx context.Context, account id.AccountID) (models.SourceAccount, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM source_accounts WHERE id = $1`, string(account))
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SourceAccount{}, dErrors.Newf(dErrors.CodeNotFound, "account %s not found", account)
	}
	if err != nil {
		return models.SourceAccount{}, fmt.Errorf("get account: %w", err)
	}
	return acct, nil
}

func (s *PostgresSource) ListAccounts(ctx context.Context, source id.SourceID) ([]models.SourceAccount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM source_accounts WHERE source = $1 ORDER BY id`, string(source))
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func (s *PostgresSource) ListStaged(ctx context.Context) ([]models.SourceAccount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM source_accounts WHERE staged ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list staged accounts: %w", err)
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func (s *PostgresSource) GetIdentity(ctx context.Context, identity id.IdentityID) (models.Identity, error) {
	var (
		ident models.Identity
		raw   string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, display_name, attributes, baseline FROM identities WHERE id = $1`, string(identity)).
		Scan(&raw, &ident.DisplayName, &ident.Attributes, &ident.Baseline)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Identity{}, dErrors.Newf(dErrors.CodeNotFound, "identity %s not found", identity)
	}
	if err != nil {
		return models.Identity{}, fmt.Errorf("get identity: %w", err)
	}
	ident.ID = id.IdentityID(raw)
	return ident, nil
}

func (s *PostgresSource) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, display_name, attributes, baseline FROM identities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []models.Identity
	for rows.Next() {
		var (
			ident models.Identity
			raw   string
		)
		if err := rows.Scan(&raw, &ident.DisplayName, &ident.Attributes, &ident.Baseline); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		ident.ID = id.IdentityID(raw)
		out = append(out, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	return out, nil
}

func scanAccount(row pgx.Row) (models.SourceAccount, error) {
	var (
		acct        models.SourceAccount
		rawID       string
		rawSource   string
		rawIdentity *string
	)
	if err := row.Scan(&rawID, &rawSource, &acct.Attributes, &rawIdentity, &acct.Disabled, &acct.LastModified); err != nil {
		return models.SourceAccount{}, err
	}
	acct.ID = id.AccountID(rawID)
	acct.Source = id.SourceID(rawSource)
	if rawIdentity != nil {
		acct.IdentityRef = id.IdentityID(*rawIdentity)
	}
	return acct, nil
}

func collectAccounts(rows pgx.Rows) ([]models.SourceAccount, error) {
	var out []models.SourceAccount
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collect accounts: %w", err)
	}
	return out, nil
}
