package httpapi

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"rmcerp.io/internal/store/db"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 1000
)

type page struct {
	Page  int
	Limit int
}

func (p page) offset() int { return (p.Page - 1) * p.Limit }

// pageOf reads page and limit. page is capped so the offset stays within
// int32 and far pages come back empty rather than overflowing.
func pageOf(req *Request) page {
	limit := min(req.queryInt("limit", defaultPageLimit), maxPageLimit)
	return page{
		Page:  min(req.queryInt("page", 1), math.MaxInt32/limit),
		Limit: limit,
	}
}

// Pagination is the metadata returned next to every list.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"totalPages"`
}

type listSelect struct {
	columns string
	from    string
	// countFrom defaults to from; joins that do not change the row count can be dropped.
	countFrom string
	where     string
	args      []any
	orderBy   string
}

// listPage fetches one page plus the total row count.
func listPage(ctx context.Context, store Store, sel listSelect, pg page) ([]db.Record, Pagination, error) {
	n := len(sel.args)
	rows, err := store.Query(ctx, db.Query{
		SQL: fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s LIMIT $%d OFFSET $%d",
			sel.columns, sel.from, sel.where, sel.orderBy, n+1, n+2),
		Args: append(slices.Clone(sel.args), pg.Limit, pg.offset()),
	})
	if err != nil {
		return nil, Pagination{}, err
	}

	countFrom := sel.countFrom
	if countFrom == "" {
		countFrom = sel.from
	}
	counts, err := store.Query(ctx, db.Query{
		SQL:  fmt.Sprintf("SELECT COUNT(*) AS total FROM %s%s", countFrom, sel.where),
		Args: sel.args,
	})
	if err != nil {
		return nil, Pagination{}, err
	}
	var total int64
	if len(counts) > 0 {
		total = toInt64(counts[0]["total"])
	}

	return rows, Pagination{
		Page:       pg.Page,
		Limit:      pg.Limit,
		Total:      total,
		TotalPages: (total + int64(pg.Limit) - 1) / int64(pg.Limit),
	}, nil
}

// searchClause matches term case-insensitively against any of cols. LIKE
// wildcards in term are escaped.
func searchClause(cols []string, term string) (string, []any) {
	term = strings.TrimSpace(term)
	if term == "" || len(cols) == 0 {
		return "", nil
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = col + " ILIKE $1"
	}
	return " WHERE (" + strings.Join(parts, " OR ") + ")", []any{"%" + escaped + "%"}
}

// toInt64 reads integer-like driver values.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case fmt.Stringer:
		i, _ := strconv.ParseInt(n.String(), 10, 64)
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	case []byte:
		i, _ := strconv.ParseInt(string(n), 10, 64)
		return i
	}
	return 0
}
