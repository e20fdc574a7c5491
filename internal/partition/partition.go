// Package partition assigns fragments to quality-stratified partitions.
package partition

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/alnah/go-corpus/internal/fragment"
)

// Other is the partition of fragments below every threshold.
const Other = "other"

// Threshold maps a minimum quality to a partition name.
type Threshold struct {
	Min  float64
	Name string
}

// Spec is a list of thresholds ordered by descending Min.
type Spec []Threshold

// NewSpec sorts thresholds descending. Equal thresholds keep their order.
func NewSpec(thresholds ...Threshold) Spec {
	s := slices.Clone(Spec(thresholds))
	slices.SortStableFunc(s, func(a, b Threshold) int {
		return cmp.Compare(b.Min, a.Min)
	})
	return s
}

// ParseSpec parses expressions of the form "<threshold>:<name>".
func ParseSpec(exprs []string) (Spec, error) {
	thresholds := make([]Threshold, 0, len(exprs))
	for _, e := range exprs {
		parts := strings.Split(e, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSpec, e)
		}
		threshold, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSpec, e, err)
		}
		thresholds = append(thresholds, Threshold{Min: threshold, Name: parts[1]})
	}
	return NewSpec(thresholds...), nil
}

// Classify returns the name of the largest threshold quality reaches, or Other.
func (s Spec) Classify(quality float64) string {
	for _, t := range s {
		if quality >= t.Min {
			return t.Name
		}
	}
	return Other
}

// Assign stamps every fragment with its partition.
func Assign(frags []*fragment.Fragment, s Spec) {
	for _, f := range frags {
		f.Partition = s.Classify(f.Quality)
	}
}
