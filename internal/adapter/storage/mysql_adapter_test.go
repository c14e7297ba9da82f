package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
)

func getMySQLAdapter(t *testing.T) *MySQLAdapter {
	t.Helper()
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("MYSQL_DSN not set")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	adapter := NewMySQLAdapter(db)
	if err := adapter.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return adapter
}

func TestMySQLRepositories(t *testing.T) {
	adapter := getMySQLAdapter(t)

	runRepositoryContract(t, func(t *testing.T) repositories {
		return repositories{ledger: adapter, catalog: adapter, sessions: adapter}
	})
}

func TestMySQL_UnknownSKU(t *testing.T) {
	adapter := getMySQLAdapter(t)

	_, _, err := adapter.Append(context.Background(), event("ghost-sku-never-created", domain.EventReceive, 1), true)

	var unknown *domain.UnknownSkuError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownSkuError, got: %v", err)
	}
	if unknown.SKU != "ghost-sku-never-created" {
		t.Errorf("expected sku ghost-sku-never-created, got %s", unknown.SKU)
	}
}
