// Package testutils contains helpers for tests that need a live MySQL.
package testutils

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
)

// DSN returns the MySQL DSN used by integration tests. Tests that call
// this should first check HaveDSN and skip otherwise.
func DSN() string {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:mypassword@tcp(127.0.0.1:3306)/test"
	}
	return dsn
}

// HaveDSN reports whether integration tests were asked to run.
func HaveDSN() bool {
	return os.Getenv("MYSQL_DSN") != ""
}

// RunSQL executes a statement against the test database.
func RunSQL(t *testing.T, stmt string) {
	t.Helper()
	db, err := sql.Open("mysql", DSN())
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(stmt)
	require.NoError(t, err)
}
