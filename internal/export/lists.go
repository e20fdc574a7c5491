package export

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/alnah/go-corpus/internal/format"
	"github.com/alnah/go-corpus/internal/fragment"
	"github.com/alnah/go-corpus/internal/sdb"
	"github.com/alnah/go-corpus/internal/split"
)

// Entry is one exported sample of a list.
type Entry struct {
	Path     string
	Size     int64
	Fragment *fragment.Fragment
}

// List is one output list, e.g. "good-train".
type List struct {
	Name    string
	Entries []Entry
}

// ListsOptions controls output path checks.
type ListsOptions struct {
	// TargetDir is checked for existing outputs; empty skips the check (archive output).
	TargetDir string
	SDB       bool
	Force     bool
}

// Lists holds output lists in first-assignment order.
type Lists struct {
	opts   ListsOptions
	logger *slog.Logger
	stat   fileStatter

	order  []string
	byName map[string]*List
}

// NewLists creates an empty list registry.
func NewLists(opts ListsOptions, logger *slog.Logger) *Lists {
	return &Lists{opts: opts, logger: logger, stat: osFS{}, byName: make(map[string]*List)}
}

// Assign stamps every fragment of alloc with the list name, creating the
// list on first use. Creating a list fails when its outputs already exist.
func (l *Lists) Assign(alloc split.Allocation) error {
	if _, ok := l.byName[alloc.Name]; !ok {
		if err := l.checkTarget(alloc.Name); err != nil {
			return err
		}
		l.byName[alloc.Name] = &List{Name: alloc.Name}
		l.order = append(l.order, alloc.Name)
	}

	var total int64
	for _, f := range alloc.Fragments {
		f.ListName = alloc.Name
		total += f.End - f.Start
	}
	l.logger.Info("Built set",
		"name", alloc.Name,
		"samples", len(alloc.Fragments),
		"duration", format.Duration(time.Duration(total)*time.Millisecond))
	return nil
}

// AssignAll assigns allocations in order.
func (l *Lists) AssignAll(allocs []split.Allocation) error {
	for _, a := range allocs {
		if err := l.Assign(a); err != nil {
			return err
		}
	}
	return nil
}

func (l *Lists) checkTarget(name string) error {
	if l.opts.TargetDir == "" || l.opts.Force {
		return nil
	}
	paths := []string{name, name + ".csv"}
	if l.opts.SDB {
		paths = []string{name + ".sdb", name + ".sdb" + sdb.TempSuffix}
	}
	for _, p := range paths {
		_, err := l.stat.Stat(filepath.Join(l.opts.TargetDir, p))
		if err == nil {
			return fmt.Errorf("%w: %q (use --force to overwrite)", ErrOutputExists, p)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("checking %s: %w", p, err)
		}
	}
	return nil
}

// Names returns list names in creation order.
func (l *Lists) Names() []string { return l.order }

// Get returns the list with the given name.
func (l *Lists) Get(name string) (*List, error) {
	list, ok := l.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownList, name)
	}
	return list, nil
}

// Len returns the number of lists.
func (l *Lists) Len() int { return len(l.order) }
