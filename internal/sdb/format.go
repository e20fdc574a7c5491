package sdb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/alnah/go-corpus/internal/audio"
)

// File layout, all integers big-endian uint64:
//
//	"SAMPLEDB" | header length | msgpack Header
//	per sample: record length | msgpack Record
//	sample count | offset of every record
//	offset of the sample count
var magic = []byte("SAMPLEDB")

// Column describes one field of every record.
type Column struct {
	Content  string `msgpack:"content"`
	MimeType string `msgpack:"mime-type"`
}

// Header is the self-description at the start of a database file.
type Header struct {
	Schema   []Column `msgpack:"schema"`
	Rate     int      `msgpack:"rate"`
	Channels int      `msgpack:"channels"`
	Width    int      `msgpack:"width"`
}

// Record is one stored sample.
type Record struct {
	Audio      []byte `msgpack:"audio"`
	Transcript string `msgpack:"transcript"`
}

func mimeType(t audio.Type) string {
	switch t {
	case audio.TypeOpus:
		return "audio/ogg; codecs=opus"
	case audio.TypeWAV:
		return "audio/wav"
	default:
		return "audio/pcm"
	}
}

func newHeader(t audio.Type, f audio.Format) Header {
	return Header{
		Schema: []Column{
			{Content: "speech", MimeType: mimeType(t)},
			{Content: "transcript", MimeType: "text/plain"},
		},
		Rate:     f.Rate,
		Channels: f.Channels,
		Width:    f.Width,
	}
}

// countingWriter tracks the offset of the next byte.
type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (c *countingWriter) uint64(v uint64) error {
	return binary.Write(c, binary.BigEndian, v)
}

// block writes a length-prefixed msgpack value.
func (c *countingWriter) block(v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.uint64(uint64(len(data))); err != nil {
		return err
	}
	_, err = c.Write(data)
	return err
}

// Contents is a fully read database file.
type Contents struct {
	Header  Header
	Records []Record
}

// ReadFile reads a whole database file into memory.
func ReadFile(path string) (*Contents, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- caller-provided database path
	if err != nil {
		return nil, err
	}
	if len(data) < len(magic)+8 || string(data[:len(magic)]) != string(magic) {
		return nil, fmt.Errorf("%w: %s: bad magic", ErrCorrupt, path)
	}

	var c Contents
	if _, err := readBlock(data[len(magic):], &c.Header); err != nil {
		return nil, fmt.Errorf("%w: %s: header: %v", ErrCorrupt, path, err)
	}

	indexAt := binary.BigEndian.Uint64(data[len(data)-8:])
	if indexAt+8 > uint64(len(data)) {
		return nil, fmt.Errorf("%w: %s: index offset %d", ErrCorrupt, path, indexAt)
	}
	count := binary.BigEndian.Uint64(data[indexAt:])
	for i := range count {
		pos := indexAt + 8 + i*8
		if pos+8 > uint64(len(data)) {
			return nil, fmt.Errorf("%w: %s: truncated index", ErrCorrupt, path)
		}
		off := binary.BigEndian.Uint64(data[pos:])
		if off >= indexAt {
			return nil, fmt.Errorf("%w: %s: record offset %d", ErrCorrupt, path, off)
		}
		var r Record
		if _, err := readBlock(data[off:indexAt], &r); err != nil {
			return nil, fmt.Errorf("%w: %s: record %d: %v", ErrCorrupt, path, i, err)
		}
		c.Records = append(c.Records, r)
	}
	return &c, nil
}

func readBlock(b []byte, v any) ([]byte, error) {
	if len(b) < 8 {
		return nil, io.ErrUnexpectedEOF
	}
	n := binary.BigEndian.Uint64(b)
	b = b[8:]
	if n > uint64(len(b)) {
		return nil, io.ErrUnexpectedEOF
	}
	if err := msgpack.Unmarshal(b[:n], v); err != nil {
		return nil, err
	}
	return b[n:], nil
}
