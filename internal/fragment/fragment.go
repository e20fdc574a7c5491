// Package fragment models transcript-aligned audio segments and loads them
// from alignment files and catalogs.
package fragment

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Unknown is the group key of fragments without a value for a meta field.
const Unknown = "<UNKNOWN>"

// Reserved record keys. Everything else in an alignment record lands in Fields.
const (
	keyAudioPath = "audio_path"
	keyStart     = "start"
	keyEnd       = "end"
	keyAligned   = "aligned"
	keyMeta      = "meta"
	keyQuality   = "quality"
	keyPartition = "partition"
	keyListName  = "list_name"
)

// Meta maps a meta field name to its values. A scalar in the alignment file
// becomes a one-element slice, so callers never deal with scalar-or-list.
type Meta map[string][]any

// UnmarshalJSON normalizes scalar values to single-element slices.
func (m *Meta) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Meta, len(raw))
	for k, v := range raw {
		switch vv := v.(type) {
		case []any:
			out[k] = vv
		case nil:
			out[k] = nil
		default:
			out[k] = []any{vv}
		}
	}
	*m = out
	return nil
}

// Fragment is one aligned segment of a source audio file.
// Derived fields (Quality, Partition, ListName) are filled in by later stages.
type Fragment struct {
	AudioPath string
	Start     int64 // milliseconds
	End       int64 // milliseconds
	Aligned   string
	Meta      Meta

	// Fields holds all other alignment record keys verbatim.
	Fields map[string]any

	Quality   float64
	Partition string
	ListName  string

	scored bool
}

// Duration returns the fragment length.
func (f *Fragment) Duration() time.Duration {
	return time.Duration(f.End-f.Start) * time.Millisecond
}

// Values returns the meta values of field, or nil if absent.
func (f *Fragment) Values(field string) []any {
	if f.Meta == nil {
		return nil
	}
	return f.Meta[field]
}

// GroupKey returns the first value of field as a string, or Unknown.
func (f *Fragment) GroupKey(field string) string {
	vals := f.Values(field)
	if len(vals) == 0 {
		return Unknown
	}
	return keyString(vals[0])
}

// SetQuality stores the computed quality indicator.
func (f *Fragment) SetQuality(q float64) {
	f.Quality = q
	f.scored = true
}

// Record returns the alignment record as a generic map: the source fields
// plus start, end, aligned, meta and audio_path. Derived fields are not
// included. Values are JSON-compatible (numbers as int or float64).
func (f *Fragment) Record() map[string]any {
	rec := make(map[string]any, len(f.Fields)+5)
	for k, v := range f.Fields {
		rec[k] = v
	}
	rec[keyStart] = int(f.Start)
	rec[keyEnd] = int(f.End)
	rec[keyAligned] = f.Aligned
	rec[keyAudioPath] = f.AudioPath
	meta := make(map[string]any, len(f.Meta))
	for k, vals := range f.Meta {
		meta[k] = append([]any(nil), vals...)
	}
	rec[keyMeta] = meta
	return rec
}

// MarshalJSON writes the flat record including derived fields.
func (f *Fragment) MarshalJSON() ([]byte, error) {
	rec := f.Record()
	if f.scored {
		rec[keyQuality] = f.Quality
	}
	if f.Partition != "" {
		rec[keyPartition] = f.Partition
	}
	if f.ListName != "" {
		rec[keyListName] = f.ListName
	}
	return json.Marshal(rec)
}

// UnmarshalJSON reads an alignment record. Unknown keys are kept in Fields.
func (f *Fragment) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Fragment
	for k, v := range raw {
		var err error
		switch k {
		case keyAudioPath:
			err = json.Unmarshal(v, &out.AudioPath)
		case keyStart:
			out.Start, err = millis(v)
		case keyEnd:
			out.End, err = millis(v)
		case keyAligned:
			err = json.Unmarshal(v, &out.Aligned)
		case keyMeta:
			if string(v) != "null" {
				err = json.Unmarshal(v, &out.Meta)
			}
		case keyQuality:
			err = json.Unmarshal(v, &out.Quality)
			out.scored = err == nil
		case keyPartition:
			err = json.Unmarshal(v, &out.Partition)
		case keyListName:
			err = json.Unmarshal(v, &out.ListName)
		default:
			var val any
			err = json.Unmarshal(v, &val)
			if out.Fields == nil {
				out.Fields = make(map[string]any)
			}
			out.Fields[k] = val
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	*f = out
	return nil
}

// millis accepts integral JSON numbers, including ones written as 1200.0.
func millis(raw json.RawMessage) (int64, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return int64(n), nil
}

func keyString(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case nil:
		return "null"
	default:
		return fmt.Sprint(vv)
	}
}

// Engroup groups fragments by key, keeping first-appearance order of keys.
func Engroup(frags []*Fragment, key func(*Fragment) string) ([]string, map[string][]*Fragment) {
	var order []string
	groups := make(map[string][]*Fragment)
	for _, f := range frags {
		k := key(f)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], f)
	}
	return order, groups
}
