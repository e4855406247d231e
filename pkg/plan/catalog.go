package plan

import "fmt"

// Catalog is the ordered list of plans making up one migration job.
// Ordering is part of the contract: plans execute strictly one after
// another, and a later plan may join against metadata that is only in its
// final location once an earlier plan has fully completed. The catalog is
// authored data, inspectable and testable as a first-class artifact.
type Catalog []Plan

// Validate fails fast on the first structural error in any plan, and on
// duplicate sources: two plans draining the same relation would race each
// other's conflict-tolerant inserts in ways that change intended
// precedence.
func (c Catalog) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("catalog has no plans")
	}
	seen := make(map[string]struct{}, len(c))
	for _, p := range c {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, ok := seen[p.Source()]; ok {
			return fmt.Errorf("duplicate plan for source table %s", p.Source())
		}
		seen[p.Source()] = struct{}{}
	}
	return nil
}

// Sources returns the ordered list of source relations, mostly for tests
// and operator inspection.
func (c Catalog) Sources() []string {
	sources := make([]string, 0, len(c))
	for _, p := range c {
		sources = append(sources, p.Source())
	}
	return sources
}
