// Package partition discovers the key bounds of a source table and divides
// the key space into fixed-width chunks, which are the unit of retryable
// work for range-based plans. It also derives sub-relation counts for
// physically pre-partitioned tables.
package partition

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// SubTableSuffix is the naming convention for physical sub-relations,
// i.e. visits_tags_map -> visits_tags_map_p_00, _p_01, ...
const SubTableSuffix = "_p_%02d"

// Bounds is the discovered [Min, Max] of a table's identity column.
// Empty is set when the table currently holds zero rows; that is not an
// error, the caller is expected to skip the plan.
type Bounds struct {
	Min   int64
	Max   int64
	Empty bool
}

// String encodes bounds so they can be recorded by the execution substrate
// and replayed verbatim on resume.
func (b Bounds) String() string {
	if b.Empty {
		return "empty"
	}
	return fmt.Sprintf("%d:%d", b.Min, b.Max)
}

// ParseBounds is the inverse of Bounds.String.
func ParseBounds(s string) (Bounds, error) {
	if s == "empty" {
		return Bounds{Empty: true}, nil
	}
	minStr, maxStr, found := strings.Cut(s, ":")
	if !found {
		return Bounds{}, fmt.Errorf("malformed bounds %q", s)
	}
	minVal, err := strconv.ParseInt(minStr, 10, 64)
	if err != nil {
		return Bounds{}, fmt.Errorf("malformed bounds %q: %w", s, err)
	}
	maxVal, err := strconv.ParseInt(maxStr, 10, 64)
	if err != nil {
		return Bounds{}, fmt.Errorf("malformed bounds %q: %w", s, err)
	}
	return Bounds{Min: minVal, Max: maxVal}, nil
}

// DiscoverBounds finds the minimum and maximum values of column in table.
// It is read-only and has no side effects. If we need to rerun everything
// on a partially drained table this can take a while, because the scan may
// skip a large number of dead tuples.
func DiscoverBounds(ctx context.Context, db *sql.DB, table, column string) (Bounds, error) {
	query := fmt.Sprintf("SELECT MIN(%s), MAX(%s) FROM %s", column, column, table)
	var minVal, maxVal sql.NullInt64
	if err := db.QueryRowContext(ctx, query).Scan(&minVal, &maxVal); err != nil {
		return Bounds{}, fmt.Errorf("discover bounds of %s: %w", table, err)
	}
	if !minVal.Valid || !maxVal.Valid {
		return Bounds{Empty: true}, nil
	}
	return Bounds{Min: minVal.Int64, Max: maxVal.Int64}, nil
}

// MaxID finds the maximum value of column in table, typically the logical
// (unpartitioned) view of a physically partitioned table. Empty tables
// report Empty rather than an error, same as DiscoverBounds.
func MaxID(ctx context.Context, db *sql.DB, table, column string) (Bounds, error) {
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", column, table)
	var maxVal sql.NullInt64
	if err := db.QueryRowContext(ctx, query).Scan(&maxVal); err != nil {
		return Bounds{}, fmt.Errorf("discover max of %s: %w", table, err)
	}
	if !maxVal.Valid {
		return Bounds{Empty: true}, nil
	}
	return Bounds{Max: maxVal.Int64}, nil
}

// Chunk is a fixed-width sub-range of the identity column's key space.
// Both bounds are inclusive: the predicate is `col BETWEEN Start AND End`.
type Chunk struct {
	Start int64
	End   int64
}

func (c Chunk) String() string {
	return fmt.Sprintf("[%d,%d]", c.Start, c.End)
}

// Chunks divides [min, max] into contiguous, non-overlapping chunks of
// width keys each. The final chunk's End may exceed max; that is harmless
// because the bound is only ever used in a range predicate.
func Chunks(minKey, maxKey, width int64) []Chunk {
	chunks := make([]Chunk, 0, (maxKey-minKey)/width+1)
	for start := minKey; start <= maxKey; start += width {
		chunks = append(chunks, Chunk{Start: start, End: start + width - 1})
	}
	return chunks
}

// Count derives the number of physical sub-relations from the maximum
// observed identity value. Sub-relation k owns ids [k*width, (k+1)*width-1],
// so the id maxID lives in sub-relation maxID/width and the count is one
// more than that.
func Count(maxID, width int64) int {
	return int(maxID/width) + 1
}

// SubTable returns the physical sub-relation name for index.
func SubTable(table string, index int) string {
	return table + fmt.Sprintf(SubTableSuffix, index)
}
