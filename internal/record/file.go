package record

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// IsJSONL reports whether path names a JSON Lines file.
func IsJSONL(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".jsonl" || ext == ".ndjson"
}

// ReadFile loads records from a .json file (one object or an array) or a
// .jsonl file (one object per line).
func ReadFile(path string) ([]*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open records: %w", err)
	}
	defer f.Close()

	var recs []*Record
	if IsJSONL(path) {
		recs, err = ReadJSONL(f)
	} else {
		recs, err = ReadJSON(f)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return recs, nil
}

// ReadJSON decodes a single record object or an array of records.
func ReadJSON(r io.Reader) ([]*Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var recs []*Record
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, err
		}
		return recs, nil
	}
	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, err
	}
	return []*Record{rec}, nil
}

// ReadJSONL decodes one record per non-blank line.
func ReadJSONL(r io.Reader) ([]*Record, error) {
	var recs []*Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		rec := &Record{}
		if err := json.Unmarshal(line, rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// IsObjectFile reports whether path is a .json file holding a single
// object rather than an array, so WriteFile can keep its shape.
func IsObjectFile(path string) bool {
	if IsJSONL(path) {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte("{"))
}

// WriteFile replaces path with recs, in the format its extension names.
// A .json file holding one record is written back as a single object.
func WriteFile(path string, recs []*Record, single bool) error {
	var buf bytes.Buffer
	var err error
	switch {
	case IsJSONL(path):
		err = WriteJSONL(&buf, recs)
	case single && len(recs) == 1:
		err = writeIndented(&buf, recs[0])
	default:
		err = writeIndented(&buf, recs)
	}
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".cardfill-*.tmp")
	if err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write records: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write records: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// WriteJSONL encodes one record per line.
func WriteJSONL(w io.Writer, recs []*Record) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
