package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// listQuery accumulates WHERE clauses and positional arguments.
type listQuery struct {
	where []string
	args  []any
}

func (q *listQuery) add(clause string, arg any) {
	q.args = append(q.args, arg)
	q.where = append(q.where, fmt.Sprintf(clause, len(q.args)))
}

// window adds the Since/Until filters of opts against col.
func (q *listQuery) window(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.add(col+" >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		q.add(col+" <= $%d", *opts.Until)
	}
}

// build renders base with the accumulated filters, orderBy, and the
// Limit/Offset of opts.
func (q *listQuery) build(base, orderBy string, opts domain.ListOpts) string {
	var sb strings.Builder
	sb.WriteString(base)
	if len(q.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(q.where, " AND "))
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(orderBy)
	if opts.Limit > 0 {
		q.args = append(q.args, opts.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(q.args))
	}
	if opts.Offset > 0 {
		q.args = append(q.args, opts.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(q.args))
	}
	return sb.String()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
