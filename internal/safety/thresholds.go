package safety

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/MrWong99/hushgate/pkg/provider/moderation"
)

// Level names a threshold preset.
type Level string

const (
	LevelStrict   Level = "strict"
	LevelModerate Level = "moderate"
	LevelLenient  Level = "lenient"
)

// MinorsThreshold is the sexual_minors threshold used by every preset.
const MinorsThreshold = 0.01

// defaultTable applies when no level is configured.
var defaultTable = map[moderation.Category]float64{
	moderation.CategorySexual:       0.05,
	moderation.CategoryHarassment:   0.05,
	moderation.CategoryHate:         0.05,
	moderation.CategoryViolence:     0.10,
	moderation.CategorySexualMinors: MinorsThreshold,
}

var levelTables = map[Level]map[moderation.Category]float64{
	LevelStrict: {
		moderation.CategorySexual:       0.05,
		moderation.CategoryHarassment:   0.03,
		moderation.CategoryHate:         0.03,
		moderation.CategoryViolence:     0.05,
		moderation.CategorySexualMinors: MinorsThreshold,
	},
	LevelModerate: {
		moderation.CategorySexual:       0.10,
		moderation.CategoryHarassment:   0.05,
		moderation.CategoryHate:         0.05,
		moderation.CategoryViolence:     0.10,
		moderation.CategorySexualMinors: MinorsThreshold,
	},
	LevelLenient: {
		moderation.CategorySexual:       0.20,
		moderation.CategoryHarassment:   0.10,
		moderation.CategoryHate:         0.10,
		moderation.CategoryViolence:     0.15,
		moderation.CategorySexualMinors: MinorsThreshold,
	},
}

// Thresholds is an immutable category → threshold table. A provider score
// at or above the threshold flags the category. Build one with
// [NewThresholds]; the zero value is empty and fails [Thresholds.Validate].
type Thresholds struct {
	values map[moderation.Category]float64
}

// DefaultThresholds returns the table used when no level is configured.
func DefaultThresholds() Thresholds {
	return Thresholds{values: maps.Clone(defaultTable)}
}

// NewThresholds starts from the preset for level ("" selects the default
// table), applies overrides and validates the result. Override keys are
// normalised, so "sexual/minors" and "sexual_minors" are the same category.
func NewThresholds(level Level, overrides map[string]float64) (Thresholds, error) {
	base := defaultTable
	if level != "" {
		t, ok := levelTables[level]
		if !ok {
			return Thresholds{}, fmt.Errorf("safety: unknown moderation level %q (want strict, moderate or lenient)", level)
		}
		base = t
	}
	values := maps.Clone(base)
	for name, v := range overrides {
		c := moderation.NormalizeCategory(name)
		if c == "" {
			return Thresholds{}, errors.New("safety: threshold override with empty category")
		}
		values[c] = v
	}
	t := Thresholds{values: values}
	if err := t.Validate(); err != nil {
		return Thresholds{}, err
	}
	return t, nil
}

// Validate checks that every threshold lies in (0, 1] and that
// sexual_minors is configured and no laxer than any other category.
func (t Thresholds) Validate() error {
	var errs []error
	if len(t.values) == 0 {
		return errors.New("safety: threshold table is empty")
	}
	for _, c := range t.Categories() {
		v := t.values[c]
		if math.IsNaN(v) || v <= 0 || v > 1 {
			errs = append(errs, fmt.Errorf("safety: threshold %s=%v must be in (0, 1]", c, v))
		}
	}
	minors, ok := t.values[moderation.CategorySexualMinors]
	if !ok {
		errs = append(errs, fmt.Errorf("safety: threshold for %s is required", moderation.CategorySexualMinors))
	} else {
		for c, v := range t.values {
			if v < minors {
				errs = append(errs, fmt.Errorf("safety: threshold %s=%v is stricter than %s=%v; %s must be the strictest",
					c, v, moderation.CategorySexualMinors, minors, moderation.CategorySexualMinors))
			}
		}
	}
	return errors.Join(errs...)
}

// Get returns the threshold for c.
func (t Thresholds) Get(c moderation.Category) (float64, bool) {
	v, ok := t.values[c]
	return v, ok
}

// Categories returns the configured categories, sorted.
func (t Thresholds) Categories() []moderation.Category {
	return slices.Sorted(maps.Keys(t.values))
}

// Map returns a copy of the table.
func (t Thresholds) Map() map[moderation.Category]float64 {
	return maps.Clone(t.values)
}

// Exceeded returns, sorted, the categories whose score is at or above the
// threshold. Categories absent from scores are treated as 0.
func (t Thresholds) Exceeded(scores moderation.Scores) []moderation.Category {
	var out []moderation.Category
	for _, c := range t.Categories() {
		if scores[c] >= t.values[c] {
			out = append(out, c)
		}
	}
	return out
}
