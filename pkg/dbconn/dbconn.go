// Package dbconn contains the database-related utility functions shared
// by the copy procedures and the operational commands.
package dbconn

import (
	"context"
	"database/sql"
	"math/rand"
	"time"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-sql-driver/mysql"

	"github.com/DSLAM-UMD/BullFrog/pkg/statement"
	"github.com/DSLAM-UMD/BullFrog/pkg/utils"
)

// Client-side errors the driver reports by number. The server-side
// numbers come from the go-mysql error codes below.
const (
	errCannotConnect = 2003
	errConnLost      = 2013
	errQueryKilled   = 1836
)

type DBConfig struct {
	LockWaitTimeout       int
	InnodbLockWaitTimeout int
	MaxRetries            int
	MaxOpenConnections    int
	InterpolateParams     bool
}

func NewDBConfig() *DBConfig {
	return &DBConfig{
		LockWaitTimeout:       30,
		InnodbLockWaitTimeout: 3,
		MaxRetries:            5,
		MaxOpenConnections:    32,
	}
}

func standardizeTrx(ctx context.Context, trx *sql.Tx, config *DBConfig) error {
	_, err := trx.ExecContext(ctx, "SET time_zone='+00:00'")
	if err != nil {
		return err
	}
	// The copy statements must reproduce whatever the application
	// inserted, including values a strict SQL mode would reject.
	_, err = trx.ExecContext(ctx, "SET sql_mode=''")
	if err != nil {
		return err
	}
	_, err = trx.ExecContext(ctx, "SET NAMES 'binary'")
	if err != nil {
		return err
	}
	_, err = trx.ExecContext(ctx, "SET innodb_lock_wait_timeout=?", config.InnodbLockWaitTimeout)
	if err != nil {
		return err
	}
	_, err = trx.ExecContext(ctx, "SET lock_wait_timeout=?", config.LockWaitTimeout)
	if err != nil {
		return err
	}
	return nil
}

// canRetryError looks at the MySQL error and decides if it is considered
// a permanent failure or not. For simplicity a "retryable" error means
// rollback the transaction and start the transaction again.
func canRetryError(err error) bool {
	var errNumber uint16
	if val, ok := err.(*mysql.MySQLError); ok {
		errNumber = val.Number
	}
	switch errNumber {
	case gomysql.ER_LOCK_WAIT_TIMEOUT, gomysql.ER_LOCK_DEADLOCK,
		gomysql.ER_OPTION_PREVENTS_STATEMENT,
		errCannotConnect, errConnLost, errQueryKilled:
		return true
	default:
		return false
	}
}

// RetryableTransaction runs all statements in one transaction, retrying
// the whole transaction on deadlocks and lock-wait timeouts, up to
// MaxRetries times. Arguments are bound via placeholders.
func RetryableTransaction(ctx context.Context, db *sql.DB, config *DBConfig, stmts ...statement.Statement) (int64, error) {
	var err error
	var trx *sql.Tx
	var rowsAffected int64
RETRYLOOP:
	for i := 0; i < config.MaxRetries; i++ {
		if trx, err = db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}); err != nil {
			backoff(i)
			continue RETRYLOOP
		}
		if err = standardizeTrx(ctx, trx, config); err != nil {
			utils.ErrInErr(trx.Rollback())
			backoff(i)
			continue RETRYLOOP
		}
		for _, stmt := range stmts {
			if stmt.Query == "" {
				continue
			}
			var res sql.Result
			if res, err = trx.ExecContext(ctx, stmt.Query, stmt.Args...); err != nil {
				if canRetryError(err) {
					utils.ErrInErr(trx.Rollback())
					backoff(i)
					continue RETRYLOOP
				}
				utils.ErrInErr(trx.Rollback())
				return rowsAffected, err
			}
			count, err := res.RowsAffected()
			if err == nil { // supported
				rowsAffected += count
			}
		}
		if err = trx.Commit(); err != nil {
			utils.ErrInErr(trx.Rollback())
			backoff(i)
			continue RETRYLOOP
		}
		return rowsAffected, nil
	}
	// We failed too many times, return the last error
	return rowsAffected, err
}

// backoff sleeps a few milliseconds before retrying.
func backoff(i int) {
	randFactor := i * rand.Intn(10) * int(time.Millisecond)
	time.Sleep(time.Duration(randFactor))
}

// BeginStandardTrx is like db.BeginTx but it does the session setting
// changes in advance, and as a bonus returns the connection id.
func BeginStandardTrx(ctx context.Context, db *sql.DB, config *DBConfig) (*sql.Tx, int, error) {
	trx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	err = standardizeTrx(ctx, trx, config)
	if err != nil {
		utils.ErrInErr(trx.Rollback())
		return nil, 0, err
	}
	var connectionID int
	err = trx.QueryRowContext(ctx, "SELECT CONNECTION_ID()").Scan(&connectionID)
	if err != nil {
		utils.ErrInErr(trx.Rollback())
		return nil, 0, err
	}
	return trx, connectionID, nil
}

// TrxExecutor binds statement execution to one ambient transaction. It
// satisfies the copy driver's executor contract.
type TrxExecutor struct {
	trx *sql.Tx
}

func NewTrxExecutor(trx *sql.Tx) *TrxExecutor {
	return &TrxExecutor{trx: trx}
}

func (e *TrxExecutor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := e.trx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil //nolint:nilerr // statement forms without affected rows are fine
	}
	return n, nil
}
