package alerts

import (
	"fmt"
	"strconv"
	"strings"
)

// Observation is what the collector knows right after storing a batch.
type Observation struct {
	BatchRecords    int
	BatchDuplicates int
	TotalRecords    uint64
	TotalDuplicates uint64
	TrackedIDs      int
}

// DuplicatePct is the share of the batch that was already seen, 0-100.
func (o Observation) DuplicatePct() float64 {
	if o.BatchRecords == 0 {
		return 0
	}
	return float64(o.BatchDuplicates) / float64(o.BatchRecords) * 100
}

// fields are the observation values a condition may reference.
var fields = map[string]func(Observation) float64{
	"duplicate_pct":    Observation.DuplicatePct,
	"batch_records":    func(o Observation) float64 { return float64(o.BatchRecords) },
	"batch_duplicates": func(o Observation) float64 { return float64(o.BatchDuplicates) },
	"total_records":    func(o Observation) float64 { return float64(o.TotalRecords) },
	"total_duplicates": func(o Observation) float64 { return float64(o.TotalDuplicates) },
	"tracked_ids":      func(o Observation) float64 { return float64(o.TrackedIDs) },
}

var operators = map[string]func(a, b float64) bool{
	">":  func(a, b float64) bool { return a > b },
	">=": func(a, b float64) bool { return a >= b },
	"<":  func(a, b float64) bool { return a < b },
	"<=": func(a, b float64) bool { return a <= b },
	"==": func(a, b float64) bool { return a == b },
}

// condition is a parsed "field op threshold" expression.
type condition struct {
	value     func(Observation) float64
	compare   func(a, b float64) bool
	threshold float64
}

// parseCondition compiles expressions such as "duplicate_pct > 20" or
// "tracked_ids >= 100000".
func parseCondition(expr string) (condition, error) {
	parts := strings.Fields(expr)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"field op value\"", expr)
	}
	value, ok := fields[parts[0]]
	if !ok {
		return condition{}, fmt.Errorf("condition %q: unknown field %q", expr, parts[0])
	}
	compare, ok := operators[parts[1]]
	if !ok {
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", expr, parts[1])
	}
	threshold, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return condition{}, fmt.Errorf("condition %q: bad threshold: %w", expr, err)
	}
	return condition{value: value, compare: compare, threshold: threshold}, nil
}

// eval reports whether the condition holds for obs and the observed value.
func (c condition) eval(obs Observation) (bool, float64) {
	v := c.value(obs)
	return c.compare(v, c.threshold), v
}
