// Package domain defines the core types and collaborator interfaces of Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository persists transactions and decision records.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	BeneficiaryStats(ctx context.Context, beneficiaryID string, since time.Time) (*BeneficiaryStats, error)

	// Neighborhood reports the beneficiaries sharing providers with entityID.
	Neighborhood(ctx context.Context, entityID string, since time.Time) (*Neighborhood, error)

	// Decision audit log. Records are append-only.
	SaveDecision(ctx context.Context, rec *DecisionRecord) error
	GetDecision(ctx context.Context, id string) (*DecisionRecord, error)
	ListDecisionsByTransaction(ctx context.Context, txID string) ([]*DecisionRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver" env:"DRIVER"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlite_path" env:"SQLITE_PATH"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgres_host" env:"POSTGRES_HOST"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgres_port" env:"POSTGRES_PORT"`
	PostgresUser     string `json:"postgresUser" yaml:"postgres_user" env:"POSTGRES_USER"`
	PostgresPassword string `json:"-" yaml:"postgres_password" env:"POSTGRES_PASSWORD"`
	PostgresDB       string `json:"postgresDb" yaml:"postgres_db" env:"POSTGRES_DB"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgres_sslmode" env:"POSTGRES_SSLMODE"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}
