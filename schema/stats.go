package schema

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// RelationStat is one parent/relation's observed cardinality, used only by
// the include planner to decide embed-vs-follow-up (spec.md §3); it is
// never observable in query output.
type RelationStat struct {
	Avg      float64 `yaml:"avg"`
	P95      float64 `yaml:"p95"`
	P99      float64 `yaml:"p99"`
	Max      float64 `yaml:"max"`
	Coverage float64 `yaml:"coverage"`
}

// Validate checks the monotonicity invariant spec.md §3 requires:
// avg <= p95 <= p99 <= max, each >= 1, and coverage in [0,1].
func (s RelationStat) Validate() error {
	switch {
	case s.Avg < 1:
		return fmt.Errorf("schema: relation stat avg must be >= 1, got %v", s.Avg)
	case !(s.Avg <= s.P95 && s.P95 <= s.P99 && s.P99 <= s.Max):
		return fmt.Errorf("schema: relation stat must satisfy avg<=p95<=p99<=max, got %+v", s)
	case s.Coverage < 0 || s.Coverage > 1:
		return fmt.Errorf("schema: relation stat coverage must be in [0,1], got %v", s.Coverage)
	}
	return nil
}

// RelationStats maps parent model -> relation name -> observed stat.
type RelationStats map[string]map[string]RelationStat

// Lookup returns the stat for parent.relation, and false if none was
// recorded (the planner's default, per spec.md §4.8, is to treat an
// absent stat as "assume row-explosion risk" and fetch via WHERE-IN).
func (s RelationStats) Lookup(parent, relation string) (RelationStat, bool) {
	byRelation, ok := s[parent]
	if !ok {
		return RelationStat{}, false
	}
	stat, ok := byRelation[relation]
	return stat, ok
}

// LoadStats parses a RelationStats table from YAML, validating every
// entry's monotonicity invariant before returning it, so a tuned stats
// file checked into source control fails fast on load rather than
// silently mis-steering the planner.
func LoadStats(r io.Reader) (RelationStats, error) {
	var stats RelationStats
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&stats); err != nil {
		return nil, fmt.Errorf("schema: decode relation stats: %w", err)
	}
	for parent, byRelation := range stats {
		for relation, stat := range byRelation {
			if err := stat.Validate(); err != nil {
				return nil, fmt.Errorf("schema: %s.%s: %w", parent, relation, err)
			}
		}
	}
	return stats, nil
}
