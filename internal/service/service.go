// Package service wires retrieval and generation into the answer pipeline.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/adrag/adrag/internal/generator"
	"github.com/adrag/adrag/internal/observability"
	"github.com/adrag/adrag/internal/retrieval"
)

// DefaultTopK is the number of chunks retrieved when the caller does not
// specify one.
const DefaultTopK = 5

// Service answers questions by retrieving context and generating a grounded
// answer from it.
type Service struct {
	retriever *retrieval.Retriever
	generator *generator.Generator
	topK      int
	logger    *slog.Logger
}

// New creates a Service. topK <= 0 falls back to DefaultTopK.
func New(retriever *retrieval.Retriever, gen *generator.Generator, topK int, logger *slog.Logger) *Service {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{retriever: retriever, generator: gen, topK: topK, logger: logger}
}

// Answer runs the full pipeline for one query. k <= 0 uses the service
// default.
func (s *Service) Answer(ctx context.Context, query string, k int) (*generator.AnswerWithCitations, error) {
	if k <= 0 {
		k = s.topK
	}
	start := time.Now()

	ctx, span := observability.StartQuerySpan(ctx, k)
	defer span.End()

	s.logger.Info("processing query", "top_k", k)
	observability.Audit().LogQueryReceived(ctx, len(query), k)

	chunks, err := s.Retrieve(ctx, query, k)
	if err != nil {
		observability.RecordError(span, err)
		observability.Audit().LogQueryError(ctx, err)
		observability.Metrics().RecordQuery(time.Since(start), err)
		return nil, err
	}
	s.logger.Info("retrieved chunks", "count", len(chunks))

	genCtx, genSpan := observability.StartGenerateSpan(ctx, s.generator.ProviderName(), len(chunks))
	answer, err := s.generator.Generate(genCtx, query, chunks)
	if err != nil {
		observability.RecordError(genSpan, err)
		genSpan.End()
		observability.RecordError(span, err)
		observability.Audit().LogQueryError(ctx, err)
		observability.Metrics().RecordQuery(time.Since(start), err)
		return nil, err
	}
	observability.RecordGenerateResult(genSpan, len(answer.Answer), len(answer.Citations))
	genSpan.End()

	observability.Audit().LogQueryAnswered(ctx, time.Since(start), len(chunks), len(answer.Citations))
	observability.Metrics().RecordQuery(time.Since(start), nil)
	s.logger.Info("generated answer", "citations", len(answer.Citations))
	return answer, nil
}

// Retrieve runs only the retrieval stage. k <= 0 uses the service default.
func (s *Service) Retrieve(ctx context.Context, query string, k int) ([]retrieval.RetrievedChunk, error) {
	if k <= 0 {
		k = s.topK
	}
	start := time.Now()

	ctx, span := observability.StartRetrieveSpan(ctx, k)
	defer span.End()

	chunks, err := s.retriever.Retrieve(ctx, query, k)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	observability.RecordRetrieveResult(span, len(chunks))
	observability.Metrics().RecordRetrieval(time.Since(start), len(chunks))
	observability.Audit().LogRetrieve(ctx, k, len(chunks), time.Since(start))
	return chunks, nil
}
