package generator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/adrag/adrag/internal/llm"
	"github.com/adrag/adrag/internal/observability"
	"github.com/adrag/adrag/internal/retrieval"
)

// NoContextAnswer is returned verbatim when retrieval produced no chunks.
const NoContextAnswer = "I found no relevant documents to answer your question."

const systemPrompt = `You are an expert Alzheimer's Disease researcher.
Answer the user's question using ONLY the provided context below.
If the context does not contain enough information to answer, say "I don't know based on the provided context."
Cite the context chunks you use by their ID, e.g. [1], [2].
Every factual statement must be cited.`

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// Citation points a factual statement in the answer back to a source chunk.
type Citation struct {
	ChunkID     int    `json:"chunk_id"`
	PMCID       string `json:"pmcid"`
	TextSnippet string `json:"text_snippet"`
}

// AnswerWithCitations is a generated answer together with its evidence: the
// citations the model actually used and every chunk it was shown.
type AnswerWithCitations struct {
	Answer      string                     `json:"answer"`
	Citations   []Citation                 `json:"citations"`
	ContextUsed []retrieval.RetrievedChunk `json:"context_used"`
}

// Options tunes answer generation.
type Options struct {
	Temperature float64
	MaxTokens   int
	SnippetLen  int
}

// DefaultOptions returns the standard generation settings.
func DefaultOptions() Options {
	return Options{Temperature: 0.0, MaxTokens: 512, SnippetLen: 50}
}

// Generator produces grounded answers from retrieved context.
type Generator struct {
	provider llm.Provider
	opts     Options
	logger   *slog.Logger
}

// NewGenerator creates a Generator backed by the given provider.
func NewGenerator(provider llm.Provider, opts Options, logger *slog.Logger) *Generator {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultOptions().MaxTokens
	}
	if opts.SnippetLen <= 0 {
		opts.SnippetLen = DefaultOptions().SnippetLen
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{provider: provider, opts: opts, logger: logger}
}

// ProviderName reports the name of the backing provider.
func (g *Generator) ProviderName() string {
	if g.provider == nil {
		return "none"
	}
	return g.provider.Name()
}

// Generate answers the query from the retrieved chunks. With no chunks it
// returns a fixed fallback answer without calling the provider.
func (g *Generator) Generate(ctx context.Context, query string, chunks []retrieval.RetrievedChunk) (*AnswerWithCitations, error) {
	if len(chunks) == 0 {
		return &AnswerWithCitations{
			Answer:      NoContextAnswer,
			Citations:   []Citation{},
			ContextUsed: []retrieval.RetrievedChunk{},
		}, nil
	}

	prompt := buildPrompt(query, chunks)
	start := time.Now()
	resp, err := g.provider.Complete(ctx, prompt, &llm.RequestOptions{
		MaxTokens:   llm.Opt(g.opts.MaxTokens),
		Temperature: llm.Opt(g.opts.Temperature),
	})
	observability.Metrics().CompletionsTotal.Inc()
	observability.Metrics().CompletionDuration.ObserveDuration(start)
	if err != nil {
		observability.Audit().LogLLMError(ctx, g.provider.Name(), "", err)
		return nil, fmt.Errorf("generating answer: %w", err)
	}
	observability.Audit().LogLLMRequest(ctx, g.provider.Name(), resp.Model, time.Since(start))

	answer := llm.StripThinkingTags(resp.Content)
	if answer == "" {
		return nil, fmt.Errorf("provider %s returned an empty answer", g.provider.Name())
	}
	if resp.Truncated() {
		g.logger.Warn("answer truncated by token limit", "max_tokens", g.opts.MaxTokens)
	}

	return &AnswerWithCitations{
		Answer:      answer,
		Citations:   g.parseCitations(answer, chunks),
		ContextUsed: chunks,
	}, nil
}

// buildPrompt numbers the chunks from 1 and labels each with its article and
// section so the model can cite them.
func buildPrompt(query string, chunks []retrieval.RetrievedChunk) *llm.Prompt {
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] (%s, %s): %s", i+1, c.Row.PMCID, c.Row.SectionTitle, c.Row.Text)
	}

	content := fmt.Sprintf("Context:\n%s\n\nQuestion: %s\n\nAnswer:", b.String(), query)
	return llm.UserPrompt(systemPrompt, content)
}

// parseCitations extracts [n] markers from the answer and maps them to the
// prompt's chunk numbering. Duplicates collapse to the first occurrence and
// out-of-range markers are dropped.
func (g *Generator) parseCitations(answer string, chunks []retrieval.RetrievedChunk) []Citation {
	matches := citationPattern.FindAllStringSubmatch(answer, -1)

	citations := []Citation{}
	seen := make(map[int]bool)
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		idx := n - 1
		if idx < 0 || idx >= len(chunks) || seen[idx] {
			continue
		}
		seen[idx] = true

		row := chunks[idx].Row
		citations = append(citations, Citation{
			ChunkID:     row.ChunkID,
			PMCID:       row.PMCID,
			TextSnippet: snippet(row.Text, g.opts.SnippetLen),
		})
	}
	return citations
}

func snippet(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
