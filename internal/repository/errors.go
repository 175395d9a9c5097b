package repository

import (
	"database/sql"
	"errors"
	"math"

	"github.com/lib/pq"
)

// ErrDuplicate reports that a write hit a unique constraint.
var ErrDuplicate = errors.New("duplicate record")

const uniqueViolation = "23505"

// translate maps driver errors onto repository sentinels and leaves
// everything else untouched.
func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

// expectAffected turns a zero-row update or delete into sql.ErrNoRows.
func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// normalizePage returns page, page size and offset. Pages are capped so
// the OFFSET clause never overflows.
func normalizePage(page, pageSize, fallback, max int) (int, int, int) {
	if pageSize <= 0 {
		pageSize = fallback
	}
	if pageSize > max {
		pageSize = max
	}
	if page < 1 {
		page = 1
	}
	if page > math.MaxInt32/pageSize {
		page = math.MaxInt32 / pageSize
	}
	return page, pageSize, (page - 1) * pageSize
}
