package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// The audit log is append-only: there are no update or delete
// operations on audit entries.
type Repository interface {
	// Application operations
	SaveApplication(ctx context.Context, requestID string, app *CreditApplication) error
	GetApplication(ctx context.Context, applicationID string) (*CreditApplication, error)

	// Audit log operations (append-only)
	AppendAuditEntry(ctx context.Context, entry *AuditEntry) error
	QueryAuditEntries(ctx context.Context, startDate, endDate string, limit int) ([]*AuditEntry, error)
	ListAuditEntries(ctx context.Context) ([]*AuditEntry, error)

	// Policy configuration operations
	SavePolicy(ctx context.Context, policy *PolicyConfig) error
	GetPolicy(ctx context.Context, policyID string) (*PolicyConfig, error)
	ListPolicies(ctx context.Context) ([]*PolicyConfig, error)

	// Model registry operations
	SaveModelRecord(ctx context.Context, rec *ModelRecord) error
	GetActiveModelRecord(ctx context.Context) (*ModelRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `json:"postgresPassword" yaml:"postgresPassword"`
	PostgresDB       string `json:"postgresDb" yaml:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
