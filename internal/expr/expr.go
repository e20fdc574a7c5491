// Package expr evaluates user-supplied jq expressions against fragments.
//
// Expressions run in a sandbox: the input value is the fragment's alignment
// record and every top-level field is also bound as a variable ($start,
// $end, $aligned, $meta, ...). Only jq builtins are available, which covers
// the usual math library (sqrt, pow, log, floor, fabs, ...). No environment
// loader or input iterator is installed, so $ENV, env, input and inputs
// cannot reach process state.
package expr

import (
	"fmt"
	"math/big"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/alnah/go-corpus/internal/fragment"
)

// DefaultCriteria is the quality expression used when none is given.
const DefaultCriteria = "100"

// identifier matches record keys usable as jq variable names.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Program is a parsed expression. Compiled code is cached per distinct set
// of record keys, since variable bindings are fixed at compile time.
type Program struct {
	src   string
	query *gojq.Query

	mu    sync.Mutex
	codes map[string]*gojq.Code
}

// Compile parses src. Syntax errors are reported immediately.
func Compile(src string) (*Program, error) {
	q, err := gojq.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidExpression, src, err)
	}
	return &Program{src: src, query: q, codes: make(map[string]*gojq.Code)}, nil
}

// String returns the expression source.
func (p *Program) String() string {
	return p.src
}

// Eval runs the program against rec and returns its first result.
func (p *Program) Eval(rec map[string]any) (any, error) {
	names := variableNames(rec)
	code, err := p.code(names)
	if err != nil {
		return nil, err
	}

	values := make([]any, len(names))
	for i, n := range names {
		values[i] = rec[n]
	}

	iter := code.Run(rec, values...)
	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("expression %q produced no value", p.src)
	}
	if err, isErr := v.(error); isErr {
		return nil, err
	}
	return v, nil
}

func (p *Program) code(names []string) (*gojq.Code, error) {
	sig := strings.Join(names, ",")

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.codes[sig]; ok {
		return c, nil
	}

	vars := make([]string, len(names))
	for i, n := range names {
		vars[i] = "$" + n
	}
	c, err := gojq.Compile(p.query, gojq.WithVariables(vars))
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", p.src, err)
	}
	p.codes[sig] = c
	return c, nil
}

func variableNames(rec map[string]any) []string {
	names := make([]string, 0, len(rec))
	for k := range rec {
		if identifier.MatchString(k) {
			names = append(names, k)
		}
	}
	slices.Sort(names)
	return names
}

// Truthy reports jq truthiness: everything except false and null.
func Truthy(v any) bool {
	switch vv := v.(type) {
	case nil:
		return false
	case bool:
		return vv
	default:
		return true
	}
}

// Number converts a jq numeric result to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	case *big.Int:
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, true
	default:
		return 0, false
	}
}

// Filter drops every fragment for which prog is truthy and returns the kept
// fragments with the number dropped. It fails if nothing is left.
func Filter(frags []*fragment.Fragment, prog *Program) ([]*fragment.Fragment, int, error) {
	kept := make([]*fragment.Fragment, 0, len(frags))
	for i, f := range frags {
		v, err := prog.Eval(f.Record())
		if err != nil {
			return nil, 0, fmt.Errorf("filter on fragment %d (%s): %w: %w", i, f.AudioPath, ErrEvaluation, err)
		}
		if !Truthy(v) {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return nil, len(frags), ErrAllFiltered
	}
	return kept, len(frags) - len(kept), nil
}

// Score evaluates prog for every fragment and stores the result as quality.
func Score(frags []*fragment.Fragment, prog *Program) error {
	for i, f := range frags {
		v, err := prog.Eval(f.Record())
		if err != nil {
			return fmt.Errorf("criteria on fragment %d (%s): %w: %w", i, f.AudioPath, ErrEvaluation, err)
		}
		q, ok := Number(v)
		if !ok {
			return fmt.Errorf("criteria on fragment %d yielded %T: %w", i, v, ErrNotNumeric)
		}
		f.SetQuality(q)
	}
	return nil
}
