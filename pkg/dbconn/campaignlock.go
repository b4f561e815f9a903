package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/siddontang/loggers"
)

const (
	// campaignLockSuffix scopes the advisory lock to the table split:
	// the lock name is "<source table>_split", so concurrent campaigns
	// on different source tables do not contend.
	campaignLockSuffix = "_split"
	// lockRefreshInterval re-asserts the GET_LOCK on the dedicated
	// connection, surfacing a silently dropped connection in the logs
	// long before the campaign ends.
	lockRefreshInterval = 1 * time.Minute
)

// GET_LOCK names are limited to 64 characters server-side.
var validTableName = regexp.MustCompile(`^[0-9a-zA-Z$_]{1,58}$`)

// CampaignLock ensures a single migration coordinator per source table:
// whichever process holds it may flip the campaign flags and launch
// background workers for that table. It is a cluster-wide advisory lock
// held on a dedicated connection for the lifetime of the campaign.
type CampaignLock struct {
	lockName string
	cancel   context.CancelFunc
	closeCh  chan error
	dbConn   *sql.DB
}

// NewCampaignLock acquires the coordinator lock for sourceTable,
// returning immediately with an error if another coordinator holds it.
func NewCampaignLock(ctx context.Context, dsn string, sourceTable string, logger loggers.Advanced) (*CampaignLock, error) {
	if !validTableName.MatchString(sourceTable) {
		return nil, fmt.Errorf("invalid source table name for campaign lock: %q", sourceTable)
	}
	cl := &CampaignLock{
		lockName: sourceTable + campaignLockSuffix,
	}

	// Dedicated connection: GET_LOCK is connection-scoped, and the pool
	// must never hand this connection to anyone else.
	dbConfig := NewDBConfig()
	dbConfig.MaxOpenConnections = 1
	dbConn, err := New(dsn, dbConfig)
	if err != nil {
		return nil, err
	}
	cl.dbConn = dbConn

	getLock := func() error {
		// https://dev.mysql.com/doc/refman/8.0/en/locking-functions.html#function_get-lock
		// Timeout 0: another coordinator is a hard error, not a wait.
		var answer int
		if err := dbConn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", cl.lockName).Scan(&answer); err != nil {
			return fmt.Errorf("could not acquire campaign lock %s: %s", cl.lockName, err)
		}
		if answer != 1 {
			return fmt.Errorf("another coordinator is migrating %s (campaign lock %s is held)", sourceTable, cl.lockName)
		}
		return nil
	}
	if err = getLock(); err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	logger.Infof("acquired campaign lock: %s", cl.lockName)

	ctx, cl.cancel = context.WithCancel(ctx)
	cl.closeCh = make(chan error)
	go func() {
		ticker := time.NewTicker(lockRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// Closing the dedicated connection releases the lock.
				logger.Warnf("releasing campaign lock: %s", cl.lockName)
				cl.closeCh <- dbConn.Close()
				return
			case <-ticker.C:
				if err := getLock(); err != nil {
					logger.Errorf("could not refresh campaign lock: %s", err)
					continue
				}
				logger.Infof("refreshed campaign lock: %s", cl.lockName)
			}
		}
	}()

	return cl, nil
}

// Name returns the advisory lock name derived from the source table.
func (c *CampaignLock) Name() string {
	return c.lockName
}

// Close releases the coordinator lock and its connection.
func (c *CampaignLock) Close() error {
	c.cancel()
	return <-c.closeCh
}
