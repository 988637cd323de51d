package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// Transcript is an in-memory full-text index over completed exchanges,
// partitioned by agent. It is rebuilt empty on every start.
type Transcript struct {
	mu    sync.RWMutex
	index bleve.Index
}

// transcriptDocument is the indexed form of an exchange.
type transcriptDocument struct {
	AgentID   string    `json:"agent_id"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Hit is a transcript search result.
type Hit struct {
	ID     string    `json:"id"`
	Input  string    `json:"input"`
	Output string    `json:"output"`
	At     time.Time `json:"timestamp"`
	Score  float64   `json:"score"`
}

// NewTranscript creates an empty memory-only index.
func NewTranscript() (*Transcript, error) {
	index, err := bleve.NewMemOnly(buildTranscriptMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript index: %w", err)
	}
	return &Transcript{index: index}, nil
}

func buildTranscriptMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name

	keyword := bleve.NewKeywordFieldMapping()

	date := bleve.NewDateTimeFieldMapping()

	doc.AddFieldMappingsAt("agent_id", keyword)
	doc.AddFieldMappingsAt("input", text)
	doc.AddFieldMappingsAt("output", text)
	doc.AddFieldMappingsAt("content", text)
	doc.AddFieldMappingsAt("created_at", date)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = doc
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping
}

// Record indexes an exchange under agentID.
func (t *Transcript) Record(agentID string, x Exchange) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc := transcriptDocument{
		AgentID:   agentID,
		Input:     x.Input,
		Output:    x.Output,
		Content:   x.Input + "\n" + x.Output,
		CreatedAt: x.At,
	}
	if err := t.index.Index(x.ID, doc); err != nil {
		return fmt.Errorf("failed to index exchange: %w", err)
	}
	return nil
}

// Search returns the exchanges of agentID that best match queryText.
// A non-positive limit selects the default; limits above 100 are capped.
func (t *Transcript) Search(ctx context.Context, agentID, queryText string, limit int) ([]Hit, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	contentQuery := bleve.NewMatchQuery(queryText)
	contentQuery.SetField("content")

	agentQuery := bleve.NewTermQuery(agentID)
	agentQuery.SetField("agent_id")

	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(contentQuery, agentQuery))
	req.Size = limit
	req.Fields = []string{"input", "output", "created_at"}

	res, err := t.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{ID: h.ID, Score: h.Score}
		hit.Input, _ = h.Fields["input"].(string)
		hit.Output, _ = h.Fields["output"].(string)
		if ts, ok := h.Fields["created_at"].(string); ok {
			hit.At, _ = time.Parse(time.RFC3339, ts)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns how many exchanges are indexed for agentID.
func (t *Transcript) Count(agentID string) (uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	q := bleve.NewTermQuery(agentID)
	q.SetField("agent_id")
	req := bleve.NewSearchRequest(q)
	req.Size = 0

	res, err := t.index.Search(req)
	if err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	return res.Total, nil
}

// Forget removes every exchange indexed for agentID.
func (t *Transcript) Forget(agentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	q := bleve.NewTermQuery(agentID)
	q.SetField("agent_id")

	for {
		req := bleve.NewSearchRequest(q)
		req.Size = 500
		res, err := t.index.Search(req)
		if err != nil {
			return fmt.Errorf("forget failed: %w", err)
		}
		if len(res.Hits) == 0 {
			return nil
		}

		batch := t.index.NewBatch()
		for _, h := range res.Hits {
			batch.Delete(h.ID)
		}
		if err := t.index.Batch(batch); err != nil {
			return fmt.Errorf("forget failed: %w", err)
		}
	}
}

// Close releases the index.
func (t *Transcript) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.index.Close()
}
