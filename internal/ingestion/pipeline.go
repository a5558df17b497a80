// Package ingestion implements the document ingestion pipeline. Incoming
// documents are filtered against the index for staleness, decoded, split
// into chunks, and committed to the vector store. The pipeline is invoked
// by the `ragdex ingest` CLI command and the ingest HTTP endpoint.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"

	"github.com/jskala/ragdex/internal/decoder"
	"github.com/jskala/ragdex/internal/rag"
	"github.com/jskala/ragdex/internal/splitter"
)

// Document is the logical unit submitted by a tenant for indexing.
type Document struct {
	// SourceID identifies the document inside its provider, in the form
	// "provider__app: id".
	SourceID string

	// Title is the human-readable document name.
	Title string

	// MediaType is the declared content type used to pick decoder and
	// splitter.
	MediaType string

	// Modified is the raw modification timestamp as submitted. It is
	// compared as an integer epoch; missing or non-numeric values count
	// as 0.
	Modified string

	// Provider is the originating application key.
	Provider string

	// Content is the raw document payload.
	Content []byte
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to the splitter default if zero.
	ChunkSize int

	// Workers bounds the number of concurrent decode/split workers.
	// Defaults to 2 if zero.
	Workers int

	// WorkerTaskBudget recycles a worker goroutine after it has handled
	// this many documents. Defaults to 50 if zero.
	WorkerTaskBudget int
}

// Pipeline orchestrates the filter → decode → split → commit flow for one
// tenant batch at a time.
type Pipeline struct {
	// store persists the produced chunks.
	store rag.VectorStore

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	// log is the structured logger for dropped-document diagnostics.
	log *slog.Logger

	// commitMu serializes AddChunks against the backend connection. The
	// embed+commit step is a critical section: not every backend client
	// is safe for concurrent writes.
	commitMu sync.Mutex
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(store rag.VectorStore, cfg *Config, log *slog.Logger) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = splitter.DefaultChunkSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.WorkerTaskBudget <= 0 {
		cfg.WorkerTaskBudget = 50
	}

	return &Pipeline{store: store, cfg: cfg, log: log.With(slog.String("component", "ingestion"))}, nil
}

var (
	sourceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+__[a-zA-Z0-9_-]+: \d+$`)
	providerPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+__[a-zA-Z0-9_-]+$`)
)

// ValidSourceID reports whether a source identifier has the
// "provider__app: id" shape used by integrated providers. The pipeline
// itself accepts any non-empty id; this check is applied at the request
// boundary where that shape is part of the contract.
func ValidSourceID(sourceID string) bool {
	return sourceIDPattern.MatchString(sourceID)
}

// ValidProviderID reports whether a provider key has the "provider__app"
// shape.
func ValidProviderID(providerID string) bool {
	return providerPattern.MatchString(providerID)
}

// Ingest runs one tenant batch through the pipeline. The returned boolean
// reports all-or-nothing commit success for the batch: true only when
// every produced chunk was committed. Individually dropped documents
// (missing source id, decode failure, empty after split) do not fail the
// batch.
func (p *Pipeline) Ingest(ctx context.Context, tenant string, docs []Document) (bool, error) {
	fresh, staleIDs, err := p.filter(ctx, tenant, docs)
	if err != nil {
		return false, err
	}

	// Stale entries go first so a source never holds two generations of
	// chunks at once.
	if err := p.store.DeleteByIDs(ctx, tenant, staleIDs); err != nil {
		return false, fmt.Errorf("ingestion: deleting stale entries: %w", err)
	}

	if len(fresh) == 0 {
		return true, nil
	}

	chunks := p.decodeAndSplit(ctx, fresh)
	if len(chunks) == 0 {
		return true, nil
	}

	p.commitMu.Lock()
	ids, err := p.store.AddChunks(ctx, tenant, chunks)
	p.commitMu.Unlock()
	if err != nil {
		return false, fmt.Errorf("ingestion: committing chunks: %w", err)
	}
	return len(ids) == len(chunks), nil
}

// filter drops invalid documents, deduplicates the batch by source id and
// partitions against the index: unknown sources and strictly newer
// versions survive, everything else is skipped. It returns the surviving
// documents and the ids of superseded entries to delete.
func (p *Pipeline) filter(ctx context.Context, tenant string, docs []Document) ([]Document, []string, error) {
	bySource := make(map[string]Document)
	order := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc.SourceID == "" {
			p.log.Info("dropping document without source id",
				slog.String("title", doc.Title))
			continue
		}
		prev, seen := bySource[doc.SourceID]
		if !seen {
			order = append(order, doc.SourceID)
			bySource[doc.SourceID] = doc
			continue
		}
		if toEpoch(doc.Modified) > toEpoch(prev.Modified) {
			bySource[doc.SourceID] = doc
		}
	}
	if len(order) == 0 {
		return nil, nil, nil
	}

	existing, err := p.store.GetByMetadata(ctx, tenant, "source", order)
	if err != nil {
		return nil, nil, fmt.Errorf("ingestion: staleness lookup: %w", err)
	}

	var fresh []Document
	var staleIDs []string
	for _, sourceID := range order {
		doc := bySource[sourceID]
		hit, indexed := existing[sourceID]
		if !indexed {
			fresh = append(fresh, doc)
			continue
		}
		if toEpoch(doc.Modified) > hit.Modified {
			staleIDs = append(staleIDs, hit.IDs...)
			fresh = append(fresh, doc)
			continue
		}
		p.log.Debug("skipping unchanged document", slog.String("source", sourceID))
	}
	return fresh, staleIDs, nil
}

type docResult struct {
	chunks []rag.Chunk
}

// decodeAndSplit runs decode and split for each document across the
// bounded worker pool and collects the produced chunks. Order across
// documents is not significant; chunks within one document stay in text
// order.
func (p *Pipeline) decodeAndSplit(ctx context.Context, docs []Document) []rag.Chunk {
	tasks := make(chan Document)
	results := make(chan docResult)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go p.worker(tasks, results, &wg)
	}

	go func() {
		defer close(tasks)
		for _, doc := range docs {
			select {
			case tasks <- doc:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	var chunks []rag.Chunk
	for res := range results {
		chunks = append(chunks, res.chunks...)
	}
	return chunks
}

// worker consumes documents until the task channel closes or its task
// budget is spent; a spent worker hands its slot to a fresh goroutine so
// long-lived workers do not accumulate state.
func (p *Pipeline) worker(tasks <-chan Document, results chan<- docResult, wg *sync.WaitGroup) {
	defer wg.Done()

	handled := 0
	for doc := range tasks {
		results <- docResult{chunks: p.process(doc)}
		handled++
		if handled >= p.cfg.WorkerTaskBudget {
			wg.Add(1)
			go p.worker(tasks, results, wg)
			return
		}
	}
}

// process decodes and splits a single document. Any failure drops the
// document with a log line and the batch continues without it.
func (p *Pipeline) process(doc Document) []rag.Chunk {
	text, ok := decoder.Decode(doc.Title, doc.MediaType, doc.Content)
	if !ok {
		p.log.Info("dropping undecodable document",
			slog.String("source", doc.SourceID),
			slog.String("type", doc.MediaType))
		return nil
	}

	parts := splitter.Split(doc.MediaType, text, p.cfg.ChunkSize)
	if len(parts) == 0 {
		p.log.Info("dropping document empty after split",
			slog.String("source", doc.SourceID))
		return nil
	}

	modified := toEpoch(doc.Modified)
	chunks := make([]rag.Chunk, 0, len(parts))
	for _, part := range parts {
		chunks = append(chunks, rag.Chunk{
			Text:        part.Text,
			Source:      doc.SourceID,
			Title:       doc.Title,
			MediaType:   doc.MediaType,
			Modified:    modified,
			Provider:    doc.Provider,
			StartOffset: part.StartOffset,
		})
	}
	return chunks
}

// toEpoch parses a modification timestamp, coercing anything non-numeric
// to 0 so documents without one always count as oldest.
func toEpoch(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
