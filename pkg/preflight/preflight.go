// Package preflight offers checks run before a migration campaign starts
// and assertions about the projection tables afterwards.
package preflight

import (
	"context"
	"database/sql"
	"slices"

	"github.com/pingcap/errors"
)

var (
	proj1Columns = []string{"c_w_id", "c_d_id", "c_id", "c_discount", "c_credit", "c_last", "c_first",
		"c_balance", "c_ytd_payment", "c_payment_cnt", "c_delivery_cnt", "c_data"}
	proj2Columns = []string{"c_w_id", "c_d_id", "c_id", "c_last", "c_first",
		"c_street_1", "c_city", "c_state", "c_zip"}
)

func tableColumns(ctx context.Context, db *sql.DB, tableName string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? ORDER BY ordinal_position",
		tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func containsColumns(ctx context.Context, db *sql.DB, tableName string, want []string) error {
	cols, err := tableColumns(ctx, db, tableName)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return errors.Errorf("table %s does not exist", tableName)
	}
	for _, col := range want {
		if !slices.Contains(cols, col) {
			return errors.Errorf("missing column %s on table %s", col, tableName)
		}
	}
	return nil
}

// CheckProjectionTables verifies the source and both projection tables
// exist with the columns the copy statements reference. Run before the
// campaign flags are flipped; a missing table here is fatal.
func CheckProjectionTables(ctx context.Context, db *sql.DB) error {
	if err := containsColumns(ctx, db, "customer", proj1Columns); err != nil {
		return err
	}
	if err := containsColumns(ctx, db, "customer", []string{"c_street_1", "c_city", "c_state", "c_zip"}); err != nil {
		return err
	}
	if err := containsColumns(ctx, db, "customer_proj1", proj1Columns); err != nil {
		return err
	}
	return containsColumns(ctx, db, "customer_proj2", proj2Columns)
}

// CheckNoDuplicates asserts that neither projection table holds the same
// composite key twice. The migrated-bit gating should make duplicate
// copies impossible; this is the end-of-campaign verification of that.
func CheckNoDuplicates(ctx context.Context, db *sql.DB) error {
	for _, tableName := range []string{"customer_proj1", "customer_proj2"} {
		var total, distinct int64
		query := "SELECT COUNT(*), COUNT(DISTINCT c_w_id, c_d_id, c_id) FROM " + tableName
		if err := db.QueryRowContext(ctx, query).Scan(&total, &distinct); err != nil {
			return errors.Annotatef(err, "could not count rows in %s", tableName)
		}
		if total != distinct {
			return errors.Errorf("%s contains %d duplicate rows", tableName, total-distinct)
		}
	}
	return nil
}
