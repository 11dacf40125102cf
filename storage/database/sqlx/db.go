// Package sqlxrepos implements the repositories over PostgreSQL.
package sqlxrepos

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/feedback360/core"
)

// postgres error codes
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// dbError converts uniqueness and foreign key violations into core.IntegrityError.
func dbError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation, pqForeignKeyViolation:
			return core.NewIntegrityError(pqErr.Constraint, err)
		}
	}
	return err
}

// notFound returns notFoundErr when err is sql.ErrNoRows.
func notFound(err, notFoundErr error) error {
	if err == sql.ErrNoRows {
		return notFoundErr
	}
	return dbError(err)
}

// checkAffected returns notFoundErr when res affected no row.
func checkAffected(res sql.Result, err, notFoundErr error) error {
	if err != nil {
		return dbError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFoundErr
	}
	return nil
}

// withTx runs fn in a transaction, committed when fn returns nil and rolled back otherwise.
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

// queryer is implemented by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func get(ctx context.Context, q queryer, dest interface{}, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return q.GetContext(ctx, dest, query, args...)
}

func selectAll(ctx context.Context, q queryer, dest interface{}, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return dbError(q.SelectContext(ctx, dest, query, args...))
}

func exec(ctx context.Context, q queryer, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	res, err := q.ExecContext(ctx, query, args...)
	return res, dbError(err)
}

// insertReturningID runs an INSERT and scans the returned id.
func insertReturningID(ctx context.Context, q queryer, b sq.InsertBuilder) (int, error) {
	query, args, err := b.Suffix("RETURNING id").ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}
	var id int
	if err = q.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, dbError(err)
	}
	return id, nil
}

func orderBy(ordering []core.DBOrdering, allowed map[string]string, dflt ...string) []string {
	var terms []string
	for _, ord := range ordering {
		if col, ok := allowed[ord.Field]; ok {
			terms = append(terms, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
		}
	}
	if len(terms) == 0 {
		return dflt
	}
	return terms
}
