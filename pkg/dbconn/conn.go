package dbconn

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	maxConnLifetime = time.Minute * 3
	maxIdleConns    = 10
)

// newDSN returns a new DSN to be used to connect to MySQL. It accepts a
// DSN as input and appends options to it to standardize the connection.
func newDSN(dsn string, config *DBConfig) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	if cfg.Params == nil {
		cfg.Params = make(map[string]string)
	}
	// The copy statements must reproduce whatever the application
	// inserted, including values a strict SQL mode would reject, so the
	// SQL mode is unset the way mysqldump does it.
	cfg.Params["sql_mode"] = `""`
	cfg.Params["time_zone"] = `"+00:00"`
	cfg.Params["innodb_lock_wait_timeout"] = strconv.Itoa(config.InnodbLockWaitTimeout)
	cfg.Params["lock_wait_timeout"] = strconv.Itoa(config.LockWaitTimeout)
	cfg.Params["transaction_isolation"] = `"read-committed"`
	// go driver charset option, sets:
	// character_set_client, character_set_connection, character_set_results
	cfg.Params["charset"] = "utf8mb4"

	cfg.Collation = "utf8mb4_bin"
	// Recycle the connection if we inadvertently connect to an old
	// primary which is now a read only replica.
	cfg.RejectReadOnly = true
	cfg.InterpolateParams = config.InterpolateParams
	cfg.AllowNativePasswords = true
	return cfg.FormatDSN(), nil
}

// New is similar to sql.Open except we take the inputDSN and append
// additional options to it to standardize the connection. It will also
// ping the connection to ensure it is valid.
func New(inputDSN string, config *DBConfig) (*sql.DB, error) {
	dsn, err := newDSN(inputDSN, config)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	//nolint: noctx // ping predates any request context
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConnections)
	db.SetConnMaxLifetime(maxConnLifetime)
	db.SetMaxIdleConns(maxIdleConns)
	return db, nil
}
