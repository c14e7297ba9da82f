package storage

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

// MySQLAdapter serializes appends per SKU with SELECT ... FOR UPDATE on the
// item row, so concurrent writers for different SKUs never block each other.
type MySQLAdapter struct {
	*sqlStore
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{sqlStore: &sqlStore{db: db, d: mysqlDialect}}
}

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS items (
			sku VARCHAR(64) NOT NULL PRIMARY KEY,
			description TEXT NOT NULL,
			unit_of_measure VARCHAR(32) NOT NULL,
			reorder_threshold BIGINT NOT NULL DEFAULT 0,
			make VARCHAR(255) NOT NULL DEFAULT '',
			model VARCHAR(255) NOT NULL DEFAULT '',
			part_number VARCHAR(255) NOT NULL DEFAULT '',
			serial_number VARCHAR(255) NOT NULL DEFAULT '',
			bin_location VARCHAR(128) NOT NULL DEFAULT '',
			notes TEXT NOT NULL,
			code_type VARCHAR(16) NOT NULL,
			stub BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS ledger_events (
			id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			sku VARCHAR(64) NOT NULL,
			event_type VARCHAR(32) NOT NULL,
			delta BIGINT NOT NULL,
			occurred_at BIGINT NOT NULL,
			actor VARCHAR(128) NOT NULL,
			reference_id VARCHAR(128) NOT NULL DEFAULT '',
			idempotency_key VARCHAR(191) NULL,
			UNIQUE KEY uq_ledger_idempotency (idempotency_key),
			KEY idx_ledger_sku_id (sku, id),
			CONSTRAINT fk_ledger_item FOREIGN KEY (sku) REFERENCES items (sku)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS audit_sessions (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			state VARCHAR(16) NOT NULL,
			opened_by VARCHAR(128) NOT NULL,
			opened_at BIGINT NOT NULL,
			closed_at BIGINT NULL,
			outcome VARCHAR(16) NOT NULL DEFAULT '',
			body MEDIUMTEXT NOT NULL,
			KEY idx_audit_state (state)
		) ENGINE=InnoDB`,
	},
	lockItem: `SELECT sku FROM items WHERE sku = ? FOR UPDATE`,
	upsertSession: `
		INSERT INTO audit_sessions (id, state, opened_by, opened_at, closed_at, outcome, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			state = VALUES(state),
			closed_at = VALUES(closed_at),
			outcome = VALUES(outcome),
			body = VALUES(body)`,
	classify: classifyMySQL,
}

const (
	mysqlErrDupEntry        = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
	mysqlErrNoReferencedRow = 1452
)

func classifyMySQL(err error) errClass {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return errOther
	}
	switch me.Number {
	case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
		return errConflict
	case mysqlErrDupEntry:
		return errUnique
	case mysqlErrNoReferencedRow:
		return errForeignKey
	}
	return errOther
}
