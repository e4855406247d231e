package plan

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Squish collapses all whitespace runs to single spaces. Generated
// templates are multi-line for readability; what we execute and journal is
// the squished form.
func Squish(stmt string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(stmt, " "))
}

func sourceList(cols []Column) string {
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.Name)
	}
	return strings.Join(names, ", ")
}

func destList(cols []Column) string {
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.destName())
	}
	return strings.Join(names, ", ")
}

func selectList(cols []Column) string {
	exprs := make([]string, 0, len(cols))
	for _, c := range cols {
		exprs = append(exprs, c.selectExpr())
	}
	return strings.Join(exprs, ", ")
}

func conflictClause(conflict []string) string {
	if len(conflict) == 0 {
		return ""
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(conflict, ", "))
}

// rangeMoveTemplate renders the canonical single-statement move for one
// key-range chunk: delete-and-return the chunk's rows from the source, then
// insert the returned rows into the destination, skipping any that already
// exist there. Retried execution after a partial prior failure is safe: if
// the prior attempt never committed the range still has rows to move, and
// if it did commit the range is empty and this is a no-op.
func rangeMoveTemplate(src, dest, idColumn string, cols []Column, conflict []string) string {
	return fmt.Sprintf(`
		WITH deleted_rows AS (
			DELETE FROM %s
			WHERE %s BETWEEN %s AND %s
			RETURNING %s
		)
		INSERT INTO %s (%s)
			SELECT %s
			FROM deleted_rows%s`,
		src,
		idColumn, StartIDMarker, EndIDMarker,
		sourceList(cols),
		dest, destList(cols),
		selectList(cols),
		conflictClause(conflict),
	)
}

// drainTemplate renders the move for one physical sub-relation. There is
// no range predicate: the sub-relation is drained unconditionally.
func drainTemplate(subTable, dest string, cols []Column, conflict []string) string {
	return fmt.Sprintf(`
		WITH deleted_rows AS (
			DELETE FROM %s
			RETURNING %s
		)
		INSERT INTO %s (%s)
			SELECT %s
			FROM deleted_rows%s`,
		subTable,
		sourceList(cols),
		dest, destList(cols),
		selectList(cols),
		conflictClause(conflict),
	)
}

// crossSchemaTemplates renders the statement sequence for a chunk that
// needs a cross-schema lookup. The destination engine refuses to join a
// non-distributed and a distributed relation in one statement, so the
// needed join keys are first materialized into a transient local table
// scoped to this unit, and dropped at the end of the same transaction.
func crossSchemaTemplates(src, dest, idColumn string, cols []Column, conflict []string, join JoinSpec) []string {
	tmp := join.tempTable()

	materialize := fmt.Sprintf(`
		CREATE TEMPORARY TABLE %s AS
			SELECT %s, %s
			FROM %s
			WHERE %s IN (
				SELECT %s
				FROM %s
				WHERE %s BETWEEN %s AND %s
			)`,
		tmp,
		join.Key, sourceList(join.Carry),
		join.Table,
		join.Key,
		join.Key,
		src,
		idColumn, StartIDMarker, EndIDMarker,
	)

	// Qualify the RETURNING list: carried columns come from the temp
	// table, the rest from the source relation.
	returning := make([]string, 0, len(join.Carry)+len(cols))
	for _, c := range join.Carry {
		returning = append(returning, tmp+"."+c.Name)
	}
	for _, c := range cols {
		returning = append(returning, src+"."+c.Name)
	}

	moveCols := slices.Concat(join.Carry, cols)
	move := fmt.Sprintf(`
		WITH deleted_rows AS (
			DELETE FROM %s
			USING %s
			WHERE
				%s.%s = %s.%s AND
				%s.%s BETWEEN %s AND %s
			RETURNING %s
		)
		INSERT INTO %s (%s)
			SELECT %s
			FROM deleted_rows%s`,
		src,
		tmp,
		src, join.Key, tmp, join.Key,
		src, idColumn, StartIDMarker, EndIDMarker,
		strings.Join(returning, ", "),
		dest, destList(moveCols),
		selectList(moveCols),
		conflictClause(conflict),
	)

	return []string{
		materialize,
		move,
		"TRUNCATE " + tmp,
		"DROP TABLE " + tmp,
	}
}
