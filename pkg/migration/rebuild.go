package migration

import (
	"context"
	"database/sql"

	"github.com/pingcap/errors"
)

// RebuildBitmap repopulates the directory from the projection tables
// after a restart. A row is migrated only once it exists in both
// projections, so the join is the authoritative source. Returns the
// number of eids marked migrated.
func RebuildBitmap(ctx context.Context, db *sql.DB, c *Campaign) (int, error) {
	query := "SELECT p1.c_w_id, p1.c_d_id, p1.c_id " +
		"FROM customer_proj1 p1 " +
		"JOIN customer_proj2 p2 USING (c_w_id, c_d_id, c_id)"
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return 0, errors.Annotate(err, "could not scan projections")
	}
	defer rows.Close()

	var n int
	for rows.Next() {
		var k1, k2, k3 uint32
		if err := rows.Scan(&k1, &k2, &k3); err != nil {
			return n, errors.Annotate(err, "could not read projection key")
		}
		c.dir.SetMigrated(c.Eid(k1, k2, k3))
		n++
	}
	if err := rows.Err(); err != nil {
		return n, errors.Annotate(err, "projection scan failed")
	}
	c.logger.Infof("bitmap rebuilt from projections: rows=%d", n)
	return n, nil
}
