// Package repository persists transactions and the decision audit log.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrNotFound is returned, wrapped, when a lookup matches nothing.
var ErrNotFound = domain.ErrNotFound

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New opens the database selected by cfg.Driver and migrates it.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
		if err == nil {
			if cfg.MaxOpenConns > 0 {
				db.SetMaxOpenConns(cfg.MaxOpenConns)
			}
			if cfg.MaxIdleConns > 0 {
				db.SetMaxIdleConns(cfg.MaxIdleConns)
			}
			if cfg.ConnMaxLifetime > 0 {
				db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
			}
		}
	default:
		return nil, domain.Configurationf("unsupported database driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores tx, replacing an earlier copy with the same id.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" {
		return domain.InvalidInputf("transaction id is required")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}

	query := `
		INSERT INTO transactions (
			id, type, beneficiary_id, provider_id, amount,
			occurred_at_ms, created_at_ms, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type,
			beneficiary_id = excluded.beneficiary_id,
			provider_id = excluded.provider_id,
			amount = excluded.amount,
			occurred_at_ms = excluded.occurred_at_ms,
			payload = excluded.payload
	`
	occurred := tx.Timestamp
	if occurred.IsZero() {
		occurred = tx.CreatedAt
	}
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.Type, tx.BeneficiaryID, tx.ProviderID, tx.Amount,
		occurred.UnixMilli(), tx.CreatedAt.UnixMilli(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("save transaction %s: %w", tx.ID, err)
	}
	return nil
}

// GetTransaction retrieves a transaction by id.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT payload FROM transactions WHERE id = ?`), txID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", txID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var tx domain.Transaction
	if err := json.Unmarshal([]byte(payload), &tx); err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", txID, err)
	}
	return &tx, nil
}

// BeneficiaryStats aggregates the beneficiary's transactions since the given time.
func (r *SQLRepository) BeneficiaryStats(ctx context.Context, beneficiaryID string, since time.Time) (*domain.BeneficiaryStats, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE beneficiary_id = ? AND occurred_at_ms >= ?
	`
	stats := &domain.BeneficiaryStats{BeneficiaryID: beneficiaryID}
	err := r.db.QueryRowContext(ctx, r.rebind(query), beneficiaryID, since.UnixMilli()).
		Scan(&stats.Count, &stats.Total)
	if err != nil {
		return nil, fmt.Errorf("beneficiary stats %s: %w", beneficiaryID, err)
	}
	if stats.Count > 0 {
		stats.Average = stats.Total / float64(stats.Count)
	}
	return stats, nil
}

// Neighborhood derives the entity's neighbors from shared providers: two
// beneficiaries are neighbors when both claimed through the same provider
// since the given time. A neighbor is flagged when any of its decisions was
// FLAG or BLOCK. Centrality and rings are left to dedicated graph backends.
func (r *SQLRepository) Neighborhood(ctx context.Context, entityID string, since time.Time) (*domain.Neighborhood, error) {
	cutoff := since.UnixMilli()
	n := &domain.Neighborhood{EntityID: entityID}

	neighbors := `
		SELECT DISTINCT o.beneficiary_id
		FROM transactions t
		JOIN transactions o ON o.provider_id = t.provider_id
		WHERE t.beneficiary_id = ?
		  AND t.provider_id <> ''
		  AND t.occurred_at_ms >= ?
		  AND o.occurred_at_ms >= ?
		  AND o.beneficiary_id <> ?
		  AND o.beneficiary_id <> ''
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(neighbors), entityID, cutoff, cutoff, entityID)
	if err != nil {
		return nil, fmt.Errorf("neighborhood %s: %w", entityID, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	n.Neighbors = len(ids)

	shared := `
		SELECT COUNT(DISTINCT t.provider_id)
		FROM transactions t
		JOIN transactions o ON o.provider_id = t.provider_id
		WHERE t.beneficiary_id = ?
		  AND t.provider_id <> ''
		  AND t.occurred_at_ms >= ?
		  AND o.occurred_at_ms >= ?
		  AND o.beneficiary_id <> ?
		  AND o.beneficiary_id <> ''
	`
	if err := r.db.QueryRowContext(ctx, r.rebind(shared), entityID, cutoff, cutoff, entityID).Scan(&n.SharedProviders); err != nil {
		return nil, fmt.Errorf("shared providers %s: %w", entityID, err)
	}

	if len(ids) == 0 {
		return n, nil
	}
	args := make([]any, 0, len(ids)+2)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, string(domain.ActionFlag), string(domain.ActionBlock))
	flagged := `
		SELECT COUNT(DISTINCT beneficiary_id)
		FROM decisions
		WHERE beneficiary_id IN (` + placeholders(len(ids)) + `)
		  AND action IN (?, ?)
	`
	if err := r.db.QueryRowContext(ctx, r.rebind(flagged), args...).Scan(&n.FlaggedNeighbors); err != nil {
		return nil, fmt.Errorf("flagged neighbors %s: %w", entityID, err)
	}
	return n, nil
}

// SaveDecision appends rec to the audit log. Saving an id twice fails.
func (r *SQLRepository) SaveDecision(ctx context.Context, rec *domain.DecisionRecord) error {
	if rec == nil || rec.ID == "" {
		return domain.InvalidInputf("decision id is required")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}

	query := `
		INSERT INTO decisions (
			id, transaction_id, case_id, beneficiary_id, workflow, action,
			risk_level, probability, config_version, decided_at_ms, record
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, rec.TransactionID, rec.CaseID, rec.BeneficiaryID,
		string(rec.Workflow), string(rec.Action), string(rec.RiskLevel),
		rec.Probability, rec.ConfigVersion, rec.DecidedAt.UnixMilli(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("save decision %s: %w", rec.ID, err)
	}
	return nil
}

// GetDecision retrieves a decision record by id.
func (r *SQLRepository) GetDecision(ctx context.Context, id string) (*domain.DecisionRecord, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT record FROM decisions WHERE id = ?`), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeDecision(payload)
}

// ListDecisionsByTransaction returns every decision taken on txID, oldest first.
func (r *SQLRepository) ListDecisionsByTransaction(ctx context.Context, txID string) ([]*domain.DecisionRecord, error) {
	query := `
		SELECT record FROM decisions
		WHERE transaction_id = ?
		ORDER BY decided_at_ms, id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.DecisionRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		rec, err := decodeDecision(payload)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func decodeDecision(payload string) (*domain.DecisionRecord, error) {
	var rec domain.DecisionRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}
	return &rec, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
