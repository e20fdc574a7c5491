package fragment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Pair references one source audio file and its alignment file.
type Pair struct {
	Audio   string `json:"audio"`
	Aligned string `json:"aligned"`
}

// ResolvePair checks that both files exist and returns their absolute paths.
func ResolvePair(audio, aligned string) (Pair, error) {
	a, err := existingFile(audio)
	if err != nil {
		return Pair{}, err
	}
	l, err := existingFile(aligned)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Audio: a, Aligned: l}, nil
}

// ReadCatalog reads a catalog file: a JSON list of {"audio", "aligned"}
// entries whose relative paths are resolved against the catalog directory.
// Entries referencing missing files fail the read unless ignoreMissing is set,
// in which case they are skipped.
func ReadCatalog(path string, ignoreMissing bool) ([]Pair, error) {
	catalog, err := existingFile(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(catalog) // #nosec G304 -- catalog path is user input
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var entries []Pair
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	base := filepath.Dir(catalog)
	pairs := make([]Pair, 0, len(entries))
	for _, e := range entries {
		audio, audioOK := resolveEntry(base, e.Audio)
		aligned, alignedOK := resolveEntry(base, e.Aligned)
		if !audioOK || !alignedOK {
			if ignoreMissing {
				continue
			}
			if !audioOK {
				return nil, fmt.Errorf("problem loading catalog %q: audio file %q: %w", path, e.Audio, ErrMissingReference)
			}
			return nil, fmt.Errorf("problem loading catalog %q: alignment file %q: %w", path, e.Aligned, ErrMissingReference)
		}
		pairs = append(pairs, Pair{Audio: audio, Aligned: aligned})
	}
	return pairs, nil
}

// LoadPairs reads the alignment file of every pair, in order, and stamps
// each fragment with the pair's audio path.
func LoadPairs(pairs []Pair) ([]*Fragment, error) {
	var frags []*Fragment
	for _, p := range pairs {
		data, err := os.ReadFile(p.Aligned) // #nosec G304 -- alignment paths come from validated pairs
		if err != nil {
			return nil, fmt.Errorf("read alignment: %w", err)
		}
		var records []*Fragment
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("parse alignment %s: %w", p.Aligned, err)
		}
		for _, f := range records {
			f.AudioPath = p.Audio
			frags = append(frags, f)
		}
	}
	return frags, nil
}

func existingFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return abs, nil
}

func resolveEntry(base, p string) (string, bool) {
	if p == "" {
		return "", false
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return abs, true
}
