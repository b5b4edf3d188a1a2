// Package manifest encodes the comma-delimited object listings passed between
// pipeline stages.
//
// A listing manifest holds one "container,key,size" line per object and a copy
// manifest holds one "container,key" line. Lines are joined by "\n" without a
// header or trailing newline. Fields are never quoted, so containers and keys
// must not contain commas.
package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
)

// Record is one line of a listing manifest.
type Record struct {
	Container string
	Key       string
	Size      int64
}

// CopyRecord is one line of a copy manifest.
type CopyRecord struct {
	Container string
	Key       string
}

// SourceName strips any directory components from an object key.
func SourceName(key string) string {
	key = strings.TrimRight(key, "/")
	if key == "" {
		return ""
	}
	return path.Base(key)
}

// ListingKey is where the listing manifest for a source file is stored.
func ListingKey(prefix, sourceName string) string {
	return joinKey(prefix, sourceName+".csv")
}

// CopyManifestKey is where the copy manifest derived from a listing manifest
// is stored. manifestName already carries the .csv suffix.
func CopyManifestKey(prefix, manifestName string) string {
	return joinKey(prefix, manifestName)
}

func joinKey(prefix, name string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func EncodeRecords(records []Record) []byte {
	var buf bytes.Buffer
	for i, r := range records {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(r.Container)
		buf.WriteByte(',')
		buf.WriteString(r.Key)
		buf.WriteByte(',')
		buf.WriteString(strconv.FormatInt(r.Size, 10))
	}
	return buf.Bytes()
}

func EncodeCopyRecords(records []CopyRecord) []byte {
	var buf bytes.Buffer
	for i, r := range records {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(r.Container)
		buf.WriteByte(',')
		buf.WriteString(r.Key)
	}
	return buf.Bytes()
}

func DecodeRecords(r io.Reader) ([]Record, error) {
	var out []Record
	err := scanLines(r, 3, func(fields []string) error {
		size, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return fmt.Errorf("parse size %q: %w", fields[2], err)
		}
		out = append(out, Record{Container: fields[0], Key: fields[1], Size: size})
		return nil
	})
	return out, err
}

func DecodeCopyRecords(r io.Reader) ([]CopyRecord, error) {
	var out []CopyRecord
	err := scanLines(r, 2, func(fields []string) error {
		out = append(out, CopyRecord{Container: fields[0], Key: fields[1]})
		return nil
	})
	return out, err
}

func scanLines(r io.Reader, want int, fn func([]string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSuffix(sc.Text(), "\r")
		if text == "" {
			continue
		}
		fields := strings.Split(text, ",")
		if len(fields) != want {
			return fmt.Errorf("line %d: expected %d fields, got %d", line, want, len(fields))
		}
		if err := fn(fields); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}
