// Package scoring implements metric normalization and weighted category
// aggregation. All sentinel substitution for unavailable data happens here,
// once, so callers never re-implement the fallback policy.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/dexrun/dexrun/internal/errs"
)

// Category is the fixed key space for metric sets and score maps. Using an
// enumerated type keeps typos from silently becoming zero-weight categories.
type Category string

const (
	CategoryPrice     Category = "price"
	CategoryVolume    Category = "volume"
	CategoryLiquidity Category = "liquidity"
	CategoryHolder    Category = "holder"
	CategoryContract  Category = "contract"
	CategoryTrading   Category = "trading"
	CategoryToken     Category = "token"
	CategoryMarket    Category = "market"
	CategoryPosition  Category = "position"
	CategoryPortfolio Category = "portfolio"
	CategoryTechnical Category = "technical"
	CategoryMomentum  Category = "momentum"
	CategorySafety    Category = "safety"
)

var validCategories = map[Category]bool{
	CategoryPrice: true, CategoryVolume: true, CategoryLiquidity: true,
	CategoryHolder: true, CategoryContract: true, CategoryTrading: true,
	CategoryToken: true, CategoryMarket: true, CategoryPosition: true,
	CategoryPortfolio: true, CategoryTechnical: true, CategoryMomentum: true,
	CategorySafety: true,
}

// Valid reports whether c is part of the enumerated key space.
func (c Category) Valid() bool { return validCategories[c] }

// MetricSet is an immutable mapping of metric name to measurement for one
// category. It is produced fresh per evaluation and owned by the aggregation
// call that created it.
type MetricSet struct {
	category Category
	values   map[string]float64
}

// NewMetricSet validates the category and copies the values. Non-finite
// measurements are dropped at construction so downstream arithmetic stays
// total.
func NewMetricSet(category Category, values map[string]float64) (MetricSet, error) {
	if !category.Valid() {
		return MetricSet{}, fmt.Errorf("%w: unknown metric category %q", errs.ErrInvalidConfig, category)
	}
	copied := make(map[string]float64, len(values))
	for name, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		copied[name] = v
	}
	return MetricSet{category: category, values: copied}, nil
}

// Category returns the category label the set was built for.
func (m MetricSet) Category() Category { return m.category }

// Len returns the number of measurements.
func (m MetricSet) Len() int { return len(m.values) }

// Raw returns a copy of the name-to-measurement mapping.
func (m MetricSet) Raw() map[string]float64 {
	out := make(map[string]float64, len(m.values))
	for name, v := range m.values {
		out[name] = v
	}
	return out
}

// Values returns the measurements in deterministic (name-sorted) order.
func (m MetricSet) Values() []float64 {
	names := make([]string, 0, len(m.values))
	for name := range m.values {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]float64, 0, len(names))
	for _, name := range names {
		out = append(out, m.values[name])
	}
	return out
}
