// Package statement builds the projection copy statements executed by the
// micro-transaction driver, and validates that statements handed to the
// driver are really a single INSERT ... SELECT statement.
package statement

import (
	"github.com/pingcap/errors"
	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
)

// Statement is one parameterized SQL statement. Arguments are always
// bound via placeholders, never interpolated into the query text.
type Statement struct {
	Query string
	Args  []any
}

const (
	proj1Columns = "c_w_id, c_d_id, c_id, c_discount, c_credit, c_last, c_first, " +
		"c_balance, c_ytd_payment, c_payment_cnt, c_delivery_cnt, c_data"
	proj2Columns = "c_w_id, c_d_id, c_id, c_last, c_first, " +
		"c_street_1, c_city, c_state, c_zip"
)

func proj1Insert(where string, args ...any) Statement {
	return Statement{
		Query: "INSERT INTO customer_proj1 (" + proj1Columns + ") " +
			"SELECT " + proj1Columns + " FROM customer WHERE " + where,
		Args: args,
	}
}

func proj2Insert(where string, args ...any) Statement {
	return Statement{
		Query: "INSERT INTO customer_proj2 (" + proj2Columns + ") " +
			"SELECT " + proj2Columns + " FROM customer WHERE " + where,
		Args: args,
	}
}

// Proj1ByID copies a single customer row into customer_proj1.
func Proj1ByID(cWID, cDID, cID int32) Statement {
	return proj1Insert("c_w_id = ? AND c_d_id = ? AND c_id = ?", cWID, cDID, cID)
}

// Proj1ByLast copies the rows matching a last name into customer_proj1.
func Proj1ByLast(cWID, cDID int32, cLast string) Statement {
	return proj1Insert("c_w_id = ? AND c_d_id = ? AND c_last = ?", cWID, cDID, cLast)
}

// Proj2ByID copies a single customer row into customer_proj2.
func Proj2ByID(cWID, cDID, cID int32) Statement {
	return proj2Insert("c_w_id = ? AND c_d_id = ? AND c_id = ?", cWID, cDID, cID)
}

// Proj2ByLast copies the rows matching a last name into customer_proj2.
func Proj2ByLast(cWID, cDID int32, cLast string) Statement {
	return proj2Insert("c_w_id = ? AND c_d_id = ? AND c_last = ?", cWID, cDID, cLast)
}

// ProjByID copies a single customer row into both projections.
func ProjByID(cWID, cDID, cID int32) []Statement {
	return []Statement{Proj1ByID(cWID, cDID, cID), Proj2ByID(cWID, cDID, cID)}
}

// ProjByLast copies the rows matching a last name into both projections.
func ProjByLast(cWID, cDID int32, cLast string) []Statement {
	return []Statement{Proj1ByLast(cWID, cDID, cLast), Proj2ByLast(cWID, cDID, cLast)}
}

// ProjRange copies the half-open customer id range [lo, hi) into both
// projections. This is the background worker form.
func ProjRange(cWID, cDID, lo, hi int32) []Statement {
	const where = "c_w_id = ? AND c_d_id = ? AND c_id >= ? AND c_id < ?"
	return []Statement{
		proj1Insert(where, cWID, cDID, lo, hi),
		proj2Insert(where, cWID, cDID, lo, hi),
	}
}

// ProjPage copies the closed customer id range [lo, hi] into both
// projections. This is the page-granular form.
func ProjPage(cWID, cDID, lo, hi int32) []Statement {
	const where = "c_w_id = ? AND c_d_id = ? AND c_id >= ? AND c_id <= ?"
	return []Statement{
		proj1Insert(where, cWID, cDID, lo, hi),
		proj2Insert(where, cWID, cDID, lo, hi),
	}
}

// AssertInsertSelect parses the query and verifies it is a single
// INSERT ... SELECT statement. The micro-transaction driver refuses any
// other statement form, since repeated passes of anything else would not
// be idempotent under the migrated-bit gating.
func AssertInsertSelect(query string) error {
	p := parser.New()
	stmtNodes, _, err := p.Parse(query, "", "")
	if err != nil {
		return errors.Annotate(err, "could not parse copy statement")
	}
	if len(stmtNodes) != 1 {
		return errors.Errorf("expected exactly one statement, got %d", len(stmtNodes))
	}
	insertStmt, ok := stmtNodes[0].(*ast.InsertStmt)
	if !ok {
		return errors.Errorf("copy statement must be INSERT ... SELECT, got %T", stmtNodes[0])
	}
	if insertStmt.Select == nil {
		return errors.New("copy statement must use INSERT ... SELECT, not VALUES")
	}
	return nil
}
