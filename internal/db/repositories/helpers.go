// helpers.go holds the query plumbing shared by the repositories: the
// db-or-tx handle, single-row lookups, dynamic WHERE clauses and unique
// violation detection.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ErrDuplicate is returned when an insert or update violates a unique constraint.
var ErrDuplicate = errors.New("duplicate value")

// dbtx is satisfied by both *sqlx.DB and *sqlx.Tx.
type dbtx interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// getOne runs a single-row query. A missing row yields (nil, nil).
func getOne[T any](ctx context.Context, q dbtx, query string, args ...interface{}) (*T, error) {
	var v T
	if err := q.GetContext(ctx, &v, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// lockClause appends FOR UPDATE to reads that precede a write in the same tx.
func lockClause(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

// conditions accumulates AND-ed predicates with positional arguments.
// Each clause carries a single %d verb that receives its placeholder number.
type conditions struct {
	clauses []string
	args    []interface{}
}

func (c *conditions) add(clause string, arg interface{}) {
	c.args = append(c.args, arg)
	c.clauses = append(c.clauses, fmt.Sprintf(clause, len(c.args)))
}

// addOptional adds the clause only when value is non-empty.
func (c *conditions) addOptional(clause, value string) {
	if value != "" {
		c.add(clause, value)
	}
}

func (c *conditions) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

// next returns the placeholder number the next argument will receive.
func (c *conditions) next() int {
	return len(c.args) + 1
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// exists reports whether a row with id exists in table for the organization.
// table must be a trusted identifier.
func exists(ctx context.Context, q dbtx, table, orgID, id string) (bool, error) {
	var found bool
	query := `SELECT EXISTS (SELECT 1 FROM ` + table + ` WHERE id = $1 AND organization_id = $2)`
	if err := q.GetContext(ctx, &found, query, id, orgID); err != nil {
		return false, fmt.Errorf("failed to check %s: %w", table, err)
	}
	return found, nil
}

// deleteScoped removes one row by id within the organization and reports
// whether a row was removed.
func deleteScoped(ctx context.Context, q dbtx, table, orgID, id string) (bool, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return false, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return n > 0, nil
}

// Page is a limit/offset window for paginated listings.
type Page struct {
	Limit  int
	Offset int
}
