package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// JSONL record types for the streaming session format.
const (
	RecordTypeHeader = "header" // Session metadata (first line)
	RecordTypeEvent  = "event"  // Individual event
	RecordTypeFooter = "footer" // Final phase (last line)
)

// JSONLRecord is a wrapper for JSONL lines with type discrimination.
type JSONLRecord struct {
	RecordType string `json:"_type"` // header, event, footer

	// Header fields (when _type == "header")
	ID        string    `json:"id,omitempty"`
	Submitter string    `json:"submitter,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`

	// Event fields (when _type == "event") - embedded Event
	*Event `json:",omitempty"`

	// Footer fields (when _type == "footer")
	Phase     string    `json:"phase,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// FileStore implements Store using one JSONL file per session.
type FileStore struct {
	dir string
}

// NewFileStore creates a new file-based store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

// Save persists a session to disk in JSONL format.
func (s *FileStore) Save(rec *Record) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	path := filepath.Join(s.dir, rec.ID+".jsonl")

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	defer f.Close()

	header := JSONLRecord{
		RecordType: RecordTypeHeader,
		ID:         rec.ID,
		Submitter:  rec.Submitter,
		CreatedAt:  rec.CreatedAt,
	}
	if err := s.writeLine(f, header); err != nil {
		return err
	}

	for _, evt := range rec.Events {
		evtCopy := evt
		record := JSONLRecord{
			RecordType: RecordTypeEvent,
			Event:      &evtCopy,
		}
		if err := s.writeLine(f, record); err != nil {
			return err
		}
	}

	footer := JSONLRecord{
		RecordType: RecordTypeFooter,
		Phase:      rec.Phase,
		UpdatedAt:  rec.UpdatedAt,
	}
	return s.writeLine(f, footer)
}

func (s *FileStore) writeLine(f *os.File, record JSONLRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	if _, err := f.WriteString("\n"); err != nil {
		return err
	}
	return nil
}

// List loads every session in the store, most recently updated first.
// Unreadable files are skipped: one corrupt session must not hide the rest.
func (s *FileStore) List() ([]*Record, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan session directory: %w", err)
	}

	var records []*Record
	for _, path := range paths {
		id := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		rec, err := s.Load(id)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
	return records, nil
}

// Load reads a session from disk.
func (s *FileStore) Load(id string) (*Record, error) {
	path := filepath.Join(s.dir, id+".jsonl")

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rec := &Record{Events: []Event{}}

	// bufio.Reader instead of Scanner - no line length limits
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				if len(bytes.TrimSpace(line)) > 0 {
					if parseErr := parseLine(line, rec); parseErr != nil {
						return nil, parseErr
					}
				}
				break
			}
			return nil, fmt.Errorf("error reading session file: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if err := parseLine(line, rec); err != nil {
			return nil, err
		}
	}

	rec.restoreSeq()
	return rec, nil
}

func parseLine(line []byte, rec *Record) error {
	var record JSONLRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return fmt.Errorf("failed to parse session line: %w", err)
	}

	switch record.RecordType {
	case RecordTypeHeader:
		rec.ID = record.ID
		rec.Submitter = record.Submitter
		rec.CreatedAt = record.CreatedAt

	case RecordTypeEvent:
		if record.Event != nil {
			rec.Events = append(rec.Events, *record.Event)
		}

	case RecordTypeFooter:
		rec.Phase = record.Phase
		rec.UpdatedAt = record.UpdatedAt
	}
	return nil
}
