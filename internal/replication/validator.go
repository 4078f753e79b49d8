package replication

import (
	"fmt"

	"github.com/withObsrvr/erp-mirror/internal/tables"
)

// ValidationResult contains the outcome of snapshot validation. Snapshot
// checks never block replication; they only produce warnings.
type ValidationResult struct {
	Warnings   []string
	Duplicates map[tables.Class]int
	Empty      bool
}

// Passed reports whether validation produced no warnings.
func (v ValidationResult) Passed() bool {
	return len(v.Warnings) == 0
}

// ValidateSnapshot performs quality checks on an extracted snapshot:
// - natural keys are unique within each class
// - the snapshot is not entirely empty
func ValidateSnapshot(snap tables.Snapshot) ValidationResult {
	result := ValidationResult{
		Duplicates: make(map[tables.Class]int),
	}

	if n := countDuplicates(snap.OrderSummaries); n > 0 {
		result.Duplicates[tables.ClassOrderSummaries] = n
	}
	if n := countDuplicates(snap.WorkOrders); n > 0 {
		result.Duplicates[tables.ClassWorkOrders] = n
	}
	for _, c := range tables.Classes {
		if n := result.Duplicates[c]; n > 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%d duplicate natural keys in %s", n, c))
		}
	}

	if len(snap.OrderSummaries) == 0 && len(snap.WorkOrders) == 0 {
		result.Empty = true
		result.Warnings = append(result.Warnings, "snapshot has no records; the mirror will be cleared")
	}

	return result
}

type keyed interface {
	Key() string
}

func countDuplicates[T keyed](records []T) int {
	seen := make(map[string]struct{}, len(records))
	dups := 0
	for _, r := range records {
		k := r.Key()
		if _, ok := seen[k]; ok {
			dups++
			continue
		}
		seen[k] = struct{}{}
	}
	return dups
}
