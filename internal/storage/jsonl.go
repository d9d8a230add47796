package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tipRelay/internal/model"
)

// Jsonl appends records to a JSONL file. Used for the local tip-history sink
// and the dead-letter file.
type Jsonl struct {
	path string
	mu   sync.Mutex
}

func NewJsonl(path string) *Jsonl {
	return &Jsonl{path: path}
}

// DeadLetterRecord is the JSONL row written for a dropped window.
type DeadLetterRecord struct {
	Reason     string               `json:"reason"`
	DroppedAt  time.Time            `json:"dropped_at"`
	Candidates []model.TipCandidate `json:"candidates"`
}

// AppendTipRecords appends settled-leg history rows as JSON lines.
func (s *Jsonl) AppendTipRecords(_ context.Context, records []model.TipRecord) error {
	if len(records) == 0 {
		return nil
	}
	lines := make([]interface{}, 0, len(records))
	for _, record := range records {
		lines = append(lines, record)
	}
	return s.appendLines(lines)
}

// AppendDeadLetter appends one dropped window with its drop reason.
func (s *Jsonl) AppendDeadLetter(_ context.Context, window []model.TipCandidate, reason string) error {
	if len(window) == 0 {
		return nil
	}
	record := DeadLetterRecord{
		Reason:     reason,
		DroppedAt:  time.Now().UTC(),
		Candidates: window,
	}
	return s.appendLines([]interface{}{record})
}

func (s *Jsonl) appendLines(items []interface{}) error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, item := range items {
		line, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}
