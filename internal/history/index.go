// Package history indexes past review feedback per submitter so later
// reviews can surface recurring issues and measure improvement.
package history

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"
)

// Record is one stored feedback entry.
type Record struct {
	ID         string    `json:"id"`
	Submitter  string    `json:"submitter"`
	SessionID  string    `json:"session_id"`
	Feedback   string    `json:"feedback"`
	StyleScore float64   `json:"style_score"`
	PassRate   float64   `json:"pass_rate"`
	CreatedAt  time.Time `json:"created_at"`
}

// Index is a full-text index over feedback records, backed by Bleve.
type Index struct {
	mu    sync.RWMutex
	index bleve.Index
}

// NewIndex opens the index at path, creating it when absent.
func NewIndex(path string) (*Index, error) {
	var index bleve.Index
	var err error

	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		index, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create history index: %w", err)
		}
	} else {
		index, err = bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open history index: %w", err)
		}
	}

	return &Index{index: index}, nil
}

// NewMemIndex creates a transient in-memory index.
func NewMemIndex() (*Index, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory history index: %w", err)
	}
	return &Index{index: index}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	recMapping := bleve.NewDocumentMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	numericFieldMapping := bleve.NewNumericFieldMapping()
	dateFieldMapping := bleve.NewDateTimeFieldMapping()

	recMapping.AddFieldMappingsAt("feedback", textFieldMapping)
	recMapping.AddFieldMappingsAt("submitter", keywordFieldMapping)
	recMapping.AddFieldMappingsAt("session_id", keywordFieldMapping)
	recMapping.AddFieldMappingsAt("style_score", numericFieldMapping)
	recMapping.AddFieldMappingsAt("pass_rate", numericFieldMapping)
	recMapping.AddFieldMappingsAt("created_at", dateFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = recMapping
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping
}

// Add indexes a feedback record. A missing ID or timestamp is filled in.
func (ix *Index) Add(rec Record) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	if err := ix.index.Index(rec.ID, rec); err != nil {
		return fmt.Errorf("failed to index feedback: %w", err)
	}
	return nil
}

// Search returns a submitter's past feedback, oldest first. An empty
// queryText returns everything for the submitter; otherwise results are
// restricted to records matching the query text.
func (ix *Index) Search(submitter, queryText string, limit int) ([]Record, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	submitterQuery := bleve.NewTermQuery(submitter)
	submitterQuery.SetField("submitter")

	var searchQuery query.Query = submitterQuery
	if queryText != "" {
		matchQuery := bleve.NewMatchQuery(queryText)
		matchQuery.SetField("feedback")
		searchQuery = bleve.NewConjunctionQuery(submitterQuery, matchQuery)
	}

	searchReq := bleve.NewSearchRequest(searchQuery)
	searchReq.Size = limit
	searchReq.Fields = []string{"*"}
	searchReq.SortBy([]string{"-created_at"})

	searchResult, err := ix.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("history search failed: %w", err)
	}

	var records []Record
	for _, hit := range searchResult.Hits {
		rec := Record{ID: hit.ID}
		rec.Submitter, _ = hit.Fields["submitter"].(string)
		rec.SessionID, _ = hit.Fields["session_id"].(string)
		rec.Feedback, _ = hit.Fields["feedback"].(string)
		rec.StyleScore, _ = hit.Fields["style_score"].(float64)
		rec.PassRate, _ = hit.Fields["pass_rate"].(float64)
		if ts, ok := hit.Fields["created_at"].(string); ok {
			rec.CreatedAt, _ = time.Parse(time.RFC3339, ts)
		}
		records = append(records, rec)
	}

	// Callers consume feedback chronologically.
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	return records, nil
}

// Count returns the number of records for a submitter.
func (ix *Index) Count(submitter string) (int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	submitterQuery := bleve.NewTermQuery(submitter)
	submitterQuery.SetField("submitter")

	searchReq := bleve.NewSearchRequest(submitterQuery)
	searchReq.Size = 0

	searchResult, err := ix.index.Search(searchReq)
	if err != nil {
		return 0, fmt.Errorf("history count failed: %w", err)
	}
	return int(searchResult.Total), nil
}

// Close closes the underlying index.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.index.Close()
}
