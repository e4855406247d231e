// Package plan defines the declarative per-table migration descriptors.
// A plan describes how to move one source relation (or its physical
// sub-relations) into its sharded destination. Plans are a closed set of
// three variants: key-range chunked, physically partitioned, and key-range
// chunked with a cross-schema lookup join. Plans are authored once per
// table, never generated at runtime, and immutable once defined.
package plan

import (
	"fmt"
	"strings"

	"github.com/block/shardmove/pkg/partition"
)

// Bound markers referenced by statement templates. Chunk bounds are
// substituted for these before execution.
const (
	StartIDMarker = "**START_ID**"
	EndIDMarker   = "**END_ID**"

	// SubTableMarker is replaced with the physical sub-relation name in
	// authored partitioned-plan templates.
	SubTableMarker = "**SUB_TABLE**"
)

// SourceSchemaPrefix is the naming convention for source schemas: rows move
// out of unsharded_<schema> and into the sharded destination. A source that
// does not follow the convention is a configuration error, caught before
// any work begins.
const SourceSchemaPrefix = "unsharded_"

// Column describes one column carried by a move statement.
// Alias renames the column at the destination (partitioned tables rename
// their per-partition id column, e.g. visits_tags_map_p_id becomes
// visits_tags_map_id). Cast applies a destination-side type conversion.
type Column struct {
	Name  string
	Alias string // destination name when it differs from Name
	Cast  string // e.g. "BIGINT"; empty means no conversion
}

// destName is the column's name at the destination.
func (c Column) destName() string {
	if c.Alias != "" {
		return c.Alias
	}
	return c.Name
}

// selectExpr is the column's expression in the INSERT ... SELECT.
func (c Column) selectExpr() string {
	expr := c.Name
	if c.Cast != "" {
		expr += "::" + c.Cast
	}
	if c.Alias != "" {
		expr += " AS " + c.Alias
	}
	return expr
}

// Plan is the common surface of all plan variants.
type Plan interface {
	// Name identifies the plan in logs, unit ids and errors.
	Name() string
	// Source is the schema-qualified source relation.
	Source() string
	// Validate fails fast on structural/configuration errors.
	Validate() error
}

// RangeLike is implemented by the plan variants whose unit of work is a
// key-range chunk (RangePlan and CrossSchemaJoinPlan).
type RangeLike interface {
	Plan
	// RangeColumn is the identity column the key space is chunked over.
	RangeColumn() string
	// Width is the fixed chunk width in key values.
	Width() int64
	// ChunkStatements renders the plan's statement sequence for one chunk.
	ChunkStatements(c partition.Chunk) []string
}

// RangePlan moves a table one key-range chunk at a time. Each chunk's
// statement sequence deletes the chunk's rows from the source, returning
// them, and inserts the returned rows into the destination tolerating
// duplicates. Because deletion is scoped to a fixed key range and insertion
// skips pre-existing rows, re-delivery of the same chunk is a safe no-op.
type RangePlan struct {
	Table     string // schema-qualified source relation
	Dest      string // schema-qualified destination relation
	IDColumn  string
	ChunkSize int64
	Columns   []Column
	Conflict  []string // destination unique key for conflict-tolerant insert; empty means plain insert

	// Statements optionally overrides generation with authored templates.
	// Templates must reference both bound markers.
	Statements []string
}

var _ RangeLike = (*RangePlan)(nil)

func (p *RangePlan) Name() string        { return p.Table }
func (p *RangePlan) Source() string      { return p.Table }
func (p *RangePlan) RangeColumn() string { return p.IDColumn }
func (p *RangePlan) Width() int64        { return p.ChunkSize }

func (p *RangePlan) Validate() error {
	if err := validateSource(p.Table); err != nil {
		return err
	}
	if err := validateIDColumn(p.IDColumn); err != nil {
		return err
	}
	if p.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive for %s: %d", p.Table, p.ChunkSize)
	}
	if len(p.Statements) == 0 {
		if p.Dest == "" {
			return fmt.Errorf("destination table required for %s", p.Table)
		}
		if len(p.Columns) == 0 {
			return fmt.Errorf("column list required for %s", p.Table)
		}
	}
	return validateBoundMarkers(p.Table, p.templates())
}

// templates returns the effective statement templates: authored when
// present, generated otherwise.
func (p *RangePlan) templates() []string {
	if len(p.Statements) > 0 {
		return p.Statements
	}
	return []string{rangeMoveTemplate(p.Table, p.Dest, p.IDColumn, p.Columns, p.Conflict)}
}

func (p *RangePlan) ChunkStatements(c partition.Chunk) []string {
	return substituteBounds(p.templates(), c)
}

// PartitionedPlan moves a table whose source is physically split into
// numbered sub-relations. The unit of work is draining one sub-relation
// entirely; no range predicate is needed because the physical split already
// constrains membership. The sub-relation count is derived from the maximum
// identity value observed across the logical view.
type PartitionedPlan struct {
	Table          string // logical (unpartitioned) view of the source
	Dest           string
	IDColumn       string // identity column across the logical view
	PartitionWidth int64  // key width owned by each sub-relation
	Columns        []Column
	Conflict       []string

	// Statements optionally overrides generation with authored templates.
	// Templates must reference the sub-table marker.
	Statements []string
}

var _ Plan = (*PartitionedPlan)(nil)

func (p *PartitionedPlan) Name() string   { return p.Table }
func (p *PartitionedPlan) Source() string { return p.Table }

func (p *PartitionedPlan) Validate() error {
	if err := validateSource(p.Table); err != nil {
		return err
	}
	if err := validateIDColumn(p.IDColumn); err != nil {
		return err
	}
	if p.PartitionWidth <= 0 {
		return fmt.Errorf("partition width must be positive for %s: %d", p.Table, p.PartitionWidth)
	}
	if len(p.Statements) > 0 {
		// Without the marker every unit would drain the same relation.
		marked := false
		for _, stmt := range p.Statements {
			if strings.Contains(stmt, SubTableMarker) {
				marked = true
			}
			if strings.Contains(stmt, StartIDMarker) || strings.Contains(stmt, EndIDMarker) {
				// Sub-relation drains carry no range predicate, so bound
				// markers have nothing to bind against.
				return fmt.Errorf("partitioned plan %s must not reference bound markers", p.Table)
			}
		}
		if !marked {
			return fmt.Errorf("partitioned plan %s statements must reference %s", p.Table, SubTableMarker)
		}
		return nil
	}
	if p.Dest == "" {
		return fmt.Errorf("destination table required for %s", p.Table)
	}
	if len(p.Columns) == 0 {
		return fmt.Errorf("column list required for %s", p.Table)
	}
	return nil
}

// SubTable returns the physical sub-relation drained by unit index.
func (p *PartitionedPlan) SubTable(index int) string {
	return partition.SubTable(p.Table, index)
}

// PartitionStatements renders the statement sequence draining one
// sub-relation.
func (p *PartitionedPlan) PartitionStatements(index int) []string {
	if len(p.Statements) > 0 {
		stmts := make([]string, 0, len(p.Statements))
		for _, stmt := range p.Statements {
			stmts = append(stmts, Squish(strings.ReplaceAll(stmt, SubTableMarker, p.SubTable(index))))
		}
		return stmts
	}
	stmt := drainTemplate(p.SubTable(index), p.Dest, p.Columns, p.Conflict)
	return []string{Squish(stmt)}
}

// JoinSpec describes the cross-schema lookup a CrossSchemaJoinPlan needs:
// the chunk's rows are joined against Table on Key to resolve the Carry
// columns (typically the owning logical group's partition key).
type JoinSpec struct {
	Table     string   // schema-qualified lookup relation
	Key       string   // join column, present on both source and lookup
	Carry     []Column // columns resolved from the lookup and carried to the destination
	TempTable string   // optional; defaults to temp_chunk_<lookup base name>
}

func (j JoinSpec) tempTable() string {
	if j.TempTable != "" {
		return j.TempTable
	}
	base := j.Table
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[i+1:]
	}
	return "temp_chunk_" + base
}

// CrossSchemaJoinPlan is a RangePlan whose move must resolve a foreign
// partition key that cannot be fetched with a direct join, because the
// destination engine forbids joining a non-distributed and a distributed
// relation in one statement. Each chunk first materializes the needed join
// keys into a transient local table, moves the rows using it, then drops
// it, all inside the same atomic unit.
type CrossSchemaJoinPlan struct {
	Table     string
	Dest      string
	IDColumn  string
	ChunkSize int64
	Columns   []Column
	Conflict  []string
	Join      JoinSpec

	// Statements optionally overrides generation with authored templates.
	Statements []string
}

var _ RangeLike = (*CrossSchemaJoinPlan)(nil)

func (p *CrossSchemaJoinPlan) Name() string        { return p.Table }
func (p *CrossSchemaJoinPlan) Source() string      { return p.Table }
func (p *CrossSchemaJoinPlan) RangeColumn() string { return p.IDColumn }
func (p *CrossSchemaJoinPlan) Width() int64        { return p.ChunkSize }

func (p *CrossSchemaJoinPlan) Validate() error {
	if err := validateSource(p.Table); err != nil {
		return err
	}
	if err := validateIDColumn(p.IDColumn); err != nil {
		return err
	}
	if p.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive for %s: %d", p.Table, p.ChunkSize)
	}
	if len(p.Statements) == 0 {
		if p.Dest == "" {
			return fmt.Errorf("destination table required for %s", p.Table)
		}
		if len(p.Columns) == 0 {
			return fmt.Errorf("column list required for %s", p.Table)
		}
		if p.Join.Table == "" || p.Join.Key == "" || len(p.Join.Carry) == 0 {
			return fmt.Errorf("join spec required for %s", p.Table)
		}
	}
	return validateBoundMarkers(p.Table, p.templates())
}

func (p *CrossSchemaJoinPlan) templates() []string {
	if len(p.Statements) > 0 {
		return p.Statements
	}
	return crossSchemaTemplates(p.Table, p.Dest, p.IDColumn, p.Columns, p.Conflict, p.Join)
}

func (p *CrossSchemaJoinPlan) ChunkStatements(c partition.Chunk) []string {
	return substituteBounds(p.templates(), c)
}

func validateSource(table string) error {
	if !strings.Contains(table, ".") {
		return fmt.Errorf("source table name must contain schema: %s", table)
	}
	if !strings.HasPrefix(table, SourceSchemaPrefix) {
		return fmt.Errorf("source table name must start with %q: %s", SourceSchemaPrefix, table)
	}
	return nil
}

func validateIDColumn(column string) error {
	if column == "" || strings.Contains(column, ".") {
		return fmt.Errorf("invalid source ID column name: %q", column)
	}
	return nil
}

// validateBoundMarkers checks that the templates of a range-based plan
// reference both chunk bounds. A template set missing a marker would
// silently move the wrong rows, so this is fatal before any work begins.
func validateBoundMarkers(table string, templates []string) error {
	var startFound, endFound bool
	for _, tmpl := range templates {
		if strings.Contains(tmpl, StartIDMarker) {
			startFound = true
		}
		if strings.Contains(tmpl, EndIDMarker) {
			endFound = true
		}
	}
	if !startFound {
		return fmt.Errorf("statement templates for %s don't contain start ID marker %q", table, StartIDMarker)
	}
	if !endFound {
		return fmt.Errorf("statement templates for %s don't contain end ID marker %q", table, EndIDMarker)
	}
	return nil
}

// substituteBounds renders templates for one chunk. Statements are
// whitespace-collapsed so they read well in logs and the journal.
func substituteBounds(templates []string, c partition.Chunk) []string {
	stmts := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		stmt := strings.ReplaceAll(tmpl, StartIDMarker, fmt.Sprintf("%d", c.Start))
		stmt = strings.ReplaceAll(stmt, EndIDMarker, fmt.Sprintf("%d", c.End))
		stmts = append(stmts, Squish(stmt))
	}
	return stmts
}
