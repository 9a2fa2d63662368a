// Package memorybank stores review patterns from completed sessions in a
// local embedded vector store, so later runs can surface "seen before"
// context next to fresh findings.
package memorybank

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SudoKMaar/CodeSentinel/internal/capability"
)

const (
	instrumentationName = "github.com/SudoKMaar/CodeSentinel/internal/memorybank"
	collectionName      = "review-patterns"
	embeddingDims       = 128
)

// Pattern is one stored review finding with its retrieval score.
type Pattern struct {
	ID       string  `json:"id"`
	Session  string  `json:"session"`
	Category string  `json:"category"`
	Severity string  `json:"severity"`
	Text     string  `json:"text"`
	Score    float32 `json:"score"`
}

// Bank persists and retrieves review patterns.
type Bank struct {
	db            *chromem.DB
	col           *chromem.Collection
	minConfidence float32
	logger        *zap.Logger
	tracer        trace.Tracer
}

// New opens (or creates) a persistent bank under dir. minConfidence
// filters retrieval results by cosine similarity.
func New(dir string, minConfidence float64, logger *zap.Logger) (*Bank, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("opening pattern store: %w", err)
	}
	col, err := db.GetOrCreateCollection(collectionName, nil, hashEmbedding)
	if err != nil {
		return nil, fmt.Errorf("opening collection: %w", err)
	}
	return &Bank{
		db:            db,
		col:           col,
		minConfidence: float32(minConfidence),
		logger:        logger,
		tracer:        otel.Tracer(instrumentationName),
	}, nil
}

// Record stores each suggestion of a completed session as a pattern.
func (b *Bank) Record(ctx context.Context, sessionID string, suggestions *capability.Suggestions) error {
	ctx, span := b.tracer.Start(ctx, "memorybank.Record",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	if suggestions == nil || len(suggestions.Items) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(suggestions.Items))
	for _, item := range suggestions.Items {
		docs = append(docs, chromem.Document{
			ID:      sessionID + "/" + item.ID,
			Content: item.Title + "\n" + item.Description,
			Metadata: map[string]string{
				"session":  sessionID,
				"category": string(item.Category),
				"severity": string(item.Severity),
			},
		})
	}
	if err := b.col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("storing patterns: %w", err)
	}

	b.logger.Info("recorded review patterns",
		zap.String("session_id", sessionID),
		zap.Int("count", len(docs)))
	return nil
}

// Similar retrieves up to n stored patterns similar to the query text,
// filtered by the confidence floor.
func (b *Bank) Similar(ctx context.Context, query string, n int) ([]Pattern, error) {
	ctx, span := b.tracer.Start(ctx, "memorybank.Similar")
	defer span.End()

	if n < 1 {
		n = 5
	}
	if count := b.col.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	results, err := b.col.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying patterns: %w", err)
	}

	var out []Pattern
	for _, res := range results {
		if res.Similarity < b.minConfidence {
			continue
		}
		out = append(out, Pattern{
			ID:       res.ID,
			Session:  res.Metadata["session"],
			Category: res.Metadata["category"],
			Severity: res.Metadata["severity"],
			Text:     res.Content,
			Score:    res.Similarity,
		})
	}
	return out, nil
}

// hashEmbedding is a deterministic local embedding built from hashed
// token counts. It needs no model or network and is stable across runs,
// which is all retrieval of short review findings requires.
func hashEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, embeddingDims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:()[]{}\"'`")
		if tok == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%embeddingDims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
