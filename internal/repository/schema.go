package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

// Times used in range queries are stored as unix milliseconds so that
// comparisons behave the same on both drivers.
const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    beneficiary_id TEXT NOT NULL,
    provider_id TEXT NOT NULL,
    amount DOUBLE PRECISION NOT NULL,
    occurred_at_ms BIGINT NOT NULL,
    created_at_ms BIGINT NOT NULL,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_beneficiary ON transactions(beneficiary_id, occurred_at_ms);
CREATE INDEX IF NOT EXISTS idx_transactions_provider ON transactions(provider_id, occurred_at_ms);
`

// schemaDecisions is the append-only decision audit log. The full record is
// kept as JSON; the columns beside it exist for lookups.
const schemaDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    case_id TEXT NOT NULL,
    beneficiary_id TEXT NOT NULL,
    workflow TEXT NOT NULL,
    action TEXT NOT NULL,
    risk_level TEXT NOT NULL,
    probability DOUBLE PRECISION NOT NULL,
    config_version BIGINT NOT NULL,
    decided_at_ms BIGINT NOT NULL,
    record TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_transaction ON decisions(transaction_id, decided_at_ms);
CREATE INDEX IF NOT EXISTS idx_decisions_beneficiary ON decisions(beneficiary_id, action);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaDecisions,
	}
}
