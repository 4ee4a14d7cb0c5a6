// Package db provides PostgreSQL database access and lifecycle management
// for the Controller.
//
// Purpose:
// - Establish and maintain the PostgreSQL connection pool
// - Initialize schema on startup (agents, scans, jobs, results, config)
// - Provide a centralized database handle for all packages
// - Validate connection configuration to prevent injection via config values
//
// Features:
// - Connection pooling (25 max open, 5 max idle, 5 min max lifetime)
// - Idempotent schema migrations (CREATE TABLE IF NOT EXISTS)
// - SSL/TLS warnings for production security
package db

import (
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Config holds database connection configuration.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Database wraps the pooled connection used by every package.
type Database struct {
	db *sql.DB
}

// validateConfig rejects configuration values that cannot be safely
// interpolated into a libpq connection string.
func validateConfig(config Config) error {
	if config.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if net.ParseIP(config.Host) == nil {
		hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-\.]{0,253}[a-zA-Z0-9])?$`)
		if !hostnameRegex.MatchString(config.Host) {
			return fmt.Errorf("invalid database host: %s", config.Host)
		}
	}

	if config.Port == "" {
		return fmt.Errorf("database port cannot be empty")
	}
	port, err := strconv.Atoi(config.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid database port: %s (must be 1-65535)", config.Port)
	}

	if config.User == "" {
		return fmt.Errorf("database user cannot be empty")
	}
	userRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !userRegex.MatchString(config.User) {
		return fmt.Errorf("invalid database user: %s", config.User)
	}

	if config.DBName == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	dbNameRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !dbNameRegex.MatchString(config.DBName) {
		return fmt.Errorf("invalid database name: %s", config.DBName)
	}

	validSSLModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	if config.SSLMode != "" {
		valid := false
		for _, mode := range validSSLModes {
			if config.SSLMode == mode {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid SSL mode: %s (must be one of: %s)", config.SSLMode, strings.Join(validSSLModes, ", "))
		}
	}

	if config.SSLMode == "" || config.SSLMode == "disable" {
		fmt.Println("WARNING: database SSL/TLS is disabled - insecure for production")
		fmt.Println("         set DB_SSL_MODE to 'require', 'verify-ca', or 'verify-full'")
	}

	return nil
}

// NewDatabase opens a pooled connection and verifies it with a ping.
func NewDatabase(config Config) (*Database, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(1 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{db: sqlDB}, nil
}

// NewDatabaseForTesting wraps an existing *sql.DB (e.g. sqlmock) for unit
// tests. Do not use in production code.
func NewDatabaseForTesting(sqlDB *sql.DB) *Database {
	return &Database{db: sqlDB}
}

// Close closes the underlying connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying *sql.DB for packages that need raw access.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Ping verifies connectivity for the readiness health check.
func (d *Database) Ping() error {
	return d.db.Ping()
}

// Migrate creates the Controller's schema if it does not already exist.
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id UUID PRIMARY KEY,
			agent_id UUID UNIQUE NOT NULL,
			hostname VARCHAR(255) NOT NULL DEFAULT '',
			os VARCHAR(100) NOT NULL DEFAULT '',
			arch VARCHAR(50) NOT NULL DEFAULT '',
			version VARCHAR(50) NOT NULL DEFAULT '',
			declared_ips JSONB DEFAULT '[]',
			authorized BOOLEAN NOT NULL DEFAULT false,
			liveness_state VARCHAR(20) NOT NULL DEFAULT 'pending',
			last_heartbeat_wall TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_heartbeat_monotonic_ns BIGINT NOT NULL DEFAULT 0,
			config_version_seen BIGINT NOT NULL DEFAULT 0,
			token_hash VARCHAR(255),
			token_rotation INT NOT NULL DEFAULT 0,
			deleted_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_liveness ON agents(liveness_state)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_last_heartbeat ON agents(last_heartbeat_wall)`,

		`CREATE TABLE IF NOT EXISTS scans (
			id UUID PRIMARY KEY,
			vt_oids JSONB NOT NULL DEFAULT '[]',
			scanner_prefs JSONB DEFAULT '{}',
			targets JSONB DEFAULT '{}',
			agent_ids JSONB NOT NULL DEFAULT '[]',
			status VARCHAR(20) NOT NULL DEFAULT 'queued',
			total_jobs INT NOT NULL DEFAULT 0,
			terminal_jobs INT NOT NULL DEFAULT 0,
			succeeded_jobs INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(status)`,

		`CREATE TABLE IF NOT EXISTS jobs (
			id UUID PRIMARY KEY,
			scan_id UUID NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
			agent_id UUID NOT NULL REFERENCES agents(agent_id) ON DELETE CASCADE,
			status VARCHAR(20) NOT NULL DEFAULT 'queued',
			attempts INT NOT NULL DEFAULT 0,
			priority INT NOT NULL DEFAULT 0,
			enqueued_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			assigned_at TIMESTAMPTZ,
			deadline_at TIMESTAMPTZ,
			config_blob JSONB DEFAULT '{}',
			fail_reason TEXT,
			UNIQUE(scan_id, agent_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_agent_status ON jobs(agent_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_scan_id ON jobs(scan_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_deadline ON jobs(deadline_at) WHERE status IN ('assigned', 'running')`,

		`CREATE TABLE IF NOT EXISTS results (
			id UUID PRIMARY KEY,
			scan_id UUID NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
			agent_id UUID NOT NULL,
			job_id UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			nvt_oid VARCHAR(255) NOT NULL,
			host VARCHAR(255) NOT NULL,
			port VARCHAR(50) DEFAULT '',
			severity NUMERIC(3,1) NOT NULL,
			threat VARCHAR(20) NOT NULL,
			description TEXT DEFAULT '',
			qod SMALLINT DEFAULT 0,
			batch_sequence BIGINT NOT NULL DEFAULT 0,
			item_index INT NOT NULL DEFAULT 0,
			submitted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(job_id, batch_sequence, item_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_scan_id ON results(scan_id)`,
		`CREATE INDEX IF NOT EXISTS idx_results_job_id ON results(job_id)`,

		`CREATE TABLE IF NOT EXISTS agent_configs (
			version BIGINT PRIMARY KEY,
			payload JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS agent_config_overrides (
			agent_id UUID NOT NULL REFERENCES agents(agent_id) ON DELETE CASCADE,
			version BIGINT NOT NULL,
			payload JSONB NOT NULL DEFAULT '{}',
			PRIMARY KEY (agent_id)
		)`,

		`INSERT INTO agent_configs (version, payload)
		VALUES (1, '{"heartbeat.interval_in_seconds": 60, "heartbeat.miss_until_inactive": 1, "retry.attempts": 3, "retry.delay_in_seconds": 5, "retry.max_jitter_in_seconds": 2, "executor.bulk_size": 50, "executor.bulk_throttle_time_in_ms": 0, "executor.scheduler_cron": []}')
		ON CONFLICT (version) DO NOTHING`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w\nquery: %s", err, migration)
		}
	}

	return nil
}
