// Package archive stores batch run reports as zstd-compressed JSON Lines:
// a header line with the run summary, then one line per record outcome.
package archive

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/suykerbuyk/cardfill/internal/batch"
	"github.com/suykerbuyk/cardfill/internal/generate"
	"github.com/suykerbuyk/cardfill/internal/mapping"
)

type header struct {
	RunID      string          `json:"run_id"`
	NoteType   string          `json:"note_type,omitempty"`
	Trigger    mapping.Trigger `json:"trigger"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Summary    batch.Summary   `json:"summary"`
	Cancelled  bool            `json:"cancelled,omitempty"`
}

// WriteReport compresses res into archiveDir/{run-id}.jsonl.zst.
// Returns the archive path.
func WriteReport(res batch.Result, archiveDir string) (string, error) {
	if res.RunID == "" {
		return "", fmt.Errorf("run has no ID")
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	destPath := ReportPath(res.RunID, archiveDir)
	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	defer dest.Close()

	encoder, err := zstd.NewWriter(dest)
	if err != nil {
		return "", fmt.Errorf("create zstd encoder: %w", err)
	}

	if err := writeLines(encoder, res); err != nil {
		encoder.Close()
		os.Remove(destPath)
		return "", fmt.Errorf("compress: %w", err)
	}

	if err := encoder.Close(); err != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("finalize compression: %w", err)
	}

	return destPath, nil
}

func writeLines(w io.Writer, res batch.Result) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	h := header{
		RunID:      res.RunID,
		NoteType:   res.NoteType,
		Trigger:    res.Trigger,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Summary:    res.Summary,
		Cancelled:  res.Cancelled,
	}
	if err := enc.Encode(h); err != nil {
		return err
	}
	for _, o := range res.Outcomes {
		if err := enc.Encode(o); err != nil {
			return err
		}
	}
	return nil
}

// ReadReport decompresses and decodes a report written by WriteReport.
func ReadReport(archivePath string) (batch.Result, error) {
	src, err := os.Open(archivePath)
	if err != nil {
		return batch.Result{}, fmt.Errorf("open archive: %w", err)
	}
	defer src.Close()

	decoder, err := zstd.NewReader(src)
	if err != nil {
		return batch.Result{}, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer decoder.Close()

	scanner := bufio.NewScanner(decoder)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return batch.Result{}, fmt.Errorf("decompress: %w", err)
		}
		return batch.Result{}, fmt.Errorf("empty report %s", archivePath)
	}
	var h header
	if err := json.Unmarshal(scanner.Bytes(), &h); err != nil {
		return batch.Result{}, fmt.Errorf("decode report header: %w", err)
	}
	res := batch.Result{
		RunID:      h.RunID,
		NoteType:   h.NoteType,
		Trigger:    h.Trigger,
		StartedAt:  h.StartedAt,
		FinishedAt: h.FinishedAt,
		Summary:    h.Summary,
		Cancelled:  h.Cancelled,
		Outcomes:   []generate.Outcome{},
	}

	for line := 2; scanner.Scan(); line++ {
		var o generate.Outcome
		if err := json.Unmarshal(scanner.Bytes(), &o); err != nil {
			return res, fmt.Errorf("decode report line %d: %w", line, err)
		}
		res.Outcomes = append(res.Outcomes, o)
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("decompress: %w", err)
	}
	return res, nil
}

// IsArchived returns true if a report exists for the given run ID.
func IsArchived(runID, archiveDir string) bool {
	_, err := os.Stat(ReportPath(runID, archiveDir))
	return err == nil
}

// ReportPath returns the deterministic report path for a run ID.
func ReportPath(runID, archiveDir string) string {
	return filepath.Join(archiveDir, runID+".jsonl.zst")
}
