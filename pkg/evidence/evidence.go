// Package evidence writes a per-run bundle recording what each stage of a
// research run saw and produced.
//
// Layout under <base>/<run-id>/:
//
//	run.json            run metadata, warnings, total usage
//	collection.json     data-collection outcome
//	stages/<field>.json one record per analysis stage
//	tools/<n>-<tool>.json one record per tool invocation
//	blobs/<kind>-<sha>.txt content-addressed prompts and outputs
//	report.md           assembled report
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zen-systems/stockbrief/pkg/adapter"
)

// RunRecord captures run-level metadata.
type RunRecord struct {
	ID             string        `json:"id"`
	Timestamp      time.Time     `json:"timestamp"`
	Company        string        `json:"company"`
	Sources        []string      `json:"sources,omitempty"`
	Adapter        string        `json:"adapter"`
	Model          string        `json:"model"`
	Complete       bool          `json:"complete"`
	Warnings       []string      `json:"warnings,omitempty"`
	Error          string        `json:"error,omitempty"`
	Usage          adapter.Usage `json:"usage"`
	DurationMillis int64         `json:"duration_ms"`
}

// CollectionRecord captures the data-collection outcome.
type CollectionRecord struct {
	State          string   `json:"state"`
	Turns          int      `json:"turns"`
	ToolCalls      int      `json:"tool_calls"`
	Observed       []string `json:"observed,omitempty"`
	Missing        []string `json:"missing,omitempty"`
	SummaryRef     string   `json:"summary_ref,omitempty"`
	Error          string   `json:"error,omitempty"`
	DurationMillis int64    `json:"duration_ms"`
}

// StageRecord captures evidence for a single analysis stage.
type StageRecord struct {
	Name           string        `json:"name"`
	Title          string        `json:"title"`
	Adapter        string        `json:"adapter"`
	Model          string        `json:"model"`
	PromptRef      string        `json:"prompt_ref,omitempty"`
	PromptHash     string        `json:"prompt_hash,omitempty"`
	OutputRef      string        `json:"output_ref,omitempty"`
	OutputHash     string        `json:"output_hash,omitempty"`
	Retries        int           `json:"retries"`
	Usage          adapter.Usage `json:"usage"`
	Placeholder    bool          `json:"placeholder,omitempty"`
	Error          string        `json:"error,omitempty"`
	DurationMillis int64         `json:"duration_ms"`
}

// ToolRecord captures a single tool invocation.
type ToolRecord struct {
	Seq            int    `json:"seq"`
	Tool           string `json:"tool"`
	Argument       string `json:"argument"`
	OutputRef      string `json:"output_ref,omitempty"`
	OutputHash     string `json:"output_hash,omitempty"`
	Failed         bool   `json:"failed"`
	Error          string `json:"error,omitempty"`
	DurationMillis int64  `json:"duration_ms"`
}

// Writer writes evidence bundles to disk.
type Writer struct {
	baseDir string
	runDir  string

	mu      sync.Mutex
	toolSeq int
}

// NewWriter creates a new evidence writer rooted at baseDir/runID.
func NewWriter(baseDir, runID string) (*Writer, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	runDir := filepath.Join(baseDir, runID)
	for _, dir := range []string{runDir, filepath.Join(runDir, "stages"), filepath.Join(runDir, "tools"), filepath.Join(runDir, "blobs")} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
		// MkdirAll is subject to umask and leaves existing dirs alone.
		if err := os.Chmod(dir, 0700); err != nil {
			return nil, err
		}
	}

	return &Writer{baseDir: baseDir, runDir: runDir}, nil
}

// RunDir returns the run directory path.
func (w *Writer) RunDir() string {
	return w.runDir
}

// WriteRun writes run metadata to run.json.
func (w *Writer) WriteRun(record RunRecord) error {
	return writeJSON(filepath.Join(w.runDir, "run.json"), record)
}

// WriteCollection writes the data-collection record to collection.json.
func (w *Writer) WriteCollection(record CollectionRecord) error {
	return writeJSON(filepath.Join(w.runDir, "collection.json"), record)
}

// WriteStage writes a stage record to stages/<stage>.json.
func (w *Writer) WriteStage(record StageRecord) error {
	if record.Name == "" {
		return fmt.Errorf("stage name is required")
	}
	path := filepath.Join(w.runDir, "stages", fmt.Sprintf("%s.json", sanitizeKind(record.Name)))
	return writeJSON(path, record)
}

// WriteTool assigns the next sequence number and writes tools/<seq>-<tool>.json.
func (w *Writer) WriteTool(record ToolRecord) (ToolRecord, error) {
	w.mu.Lock()
	w.toolSeq++
	record.Seq = w.toolSeq
	w.mu.Unlock()

	path := filepath.Join(w.runDir, "tools", fmt.Sprintf("%02d-%s.json", record.Seq, sanitizeKind(record.Tool)))
	return record, writeJSON(path, record)
}

// WriteReport writes the assembled report to report.md.
func (w *Writer) WriteReport(text string) error {
	return writeFile(filepath.Join(w.runDir, "report.md"), []byte(text))
}

// WriteBlob stores content under blobs/<kind>-<sha256>.txt and returns the
// run-relative reference and the hex digest. Identical content maps to the
// same reference.
func (w *Writer) WriteBlob(kind string, content []byte) (string, string, error) {
	sum := sha256.Sum256(content)
	sha := hex.EncodeToString(sum[:])
	ref := "blobs/" + sanitizeKind(kind) + "-" + sha + ".txt"

	path := filepath.Join(w.runDir, filepath.FromSlash(ref))
	if _, err := os.Stat(path); err == nil {
		return ref, sha, nil
	}
	if err := writeFile(path, content); err != nil {
		return "", "", err
	}
	return ref, sha, nil
}

func sanitizeKind(kind string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(kind) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		case r == ' ' || r == '-':
			sb.WriteRune('_')
		}
	}
	out := strings.Trim(sb.String(), "_")
	if out == "" {
		return "blob"
	}
	return out
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0600); err != nil {
		return err
	}
	return os.Chmod(path, 0600)
}
