// Package debias caps per-group fragment counts to reduce over-represented
// groups, keeping the highest-quality members.
package debias

import (
	"cmp"
	"math"
	"slices"

	"github.com/alnah/go-corpus/internal/fragment"
)

// DefaultSigmaFactor is the default standard deviation multiplier for the cap.
const DefaultSigmaFactor = 3.0

// Drop records how many fragments of a group were removed.
type Drop struct {
	Group   string
	Dropped int
}

// Report summarizes one debiasing pass.
type Report struct {
	Field string
	Cap   int
	Drops []Drop // most dropped first
}

// Dropped returns the total number of removed fragments.
func (r Report) Dropped() int {
	n := 0
	for _, d := range r.Drops {
		n += d.Dropped
	}
	return n
}

// Debias groups frags by the first value of field. Groups larger than
// mean + sigmaFactor*stdev of all group sizes are cut down to that cap,
// dropping their lowest-quality members. The Unknown group is never capped
// and does not take part in the statistics.
func Debias(frags []*fragment.Fragment, field string, sigmaFactor float64) ([]*fragment.Fragment, Report) {
	report := Report{Field: field}
	order, groups := fragment.Engroup(frags, func(f *fragment.Fragment) string {
		return f.GroupKey(field)
	})

	out := make([]*fragment.Fragment, 0, len(frags))
	out = append(out, groups[fragment.Unknown]...)

	counts := make([]float64, 0, len(groups))
	for _, key := range order {
		if key != fragment.Unknown {
			counts = append(counts, float64(len(groups[key])))
		}
	}
	if len(counts) == 0 {
		return out, report
	}

	mean, sigma := meanStdev(counts)
	report.Cap = max(int(mean+sigmaFactor*sigma), 0)

	for _, key := range order {
		if key == fragment.Unknown {
			continue
		}
		members := groups[key]
		if len(members) > report.Cap {
			slices.SortStableFunc(members, func(a, b *fragment.Fragment) int {
				return cmp.Compare(a.Quality, b.Quality)
			})
			report.Drops = append(report.Drops, Drop{Group: key, Dropped: len(members) - report.Cap})
			members = members[len(members)-report.Cap:]
		}
		out = append(out, members...)
	}

	slices.SortStableFunc(report.Drops, func(a, b Drop) int {
		return cmp.Compare(b.Dropped, a.Dropped)
	})
	return out, report
}

// meanStdev returns the mean and population standard deviation.
func meanStdev(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}
