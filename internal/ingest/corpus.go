package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/adrag/adrag/internal/observability"
)

// Summary counts the outcome of one fetch run.
type Summary struct {
	Downloaded int `json:"downloaded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	NoLink     int `json:"no_link"`
}

// FetchOptions configures one corpus fetch run.
type FetchOptions struct {
	Query        string
	OutDir       string
	TargetN      int
	Oversample   int // search retmax multiplier, default 3
	Resume       bool
	ManifestPath string // empty disables the manifest
}

// Fetcher downloads a corpus of PMC articles.
type Fetcher struct {
	client *EntrezClient
	logger *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(client *EntrezClient, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, logger: logger}
}

// FetchCorpus searches PubMed, resolves PMC links and downloads full-text
// XML until TargetN articles are on disk. With Resume set, files already
// present count toward the target without re-downloading.
func (f *Fetcher) FetchCorpus(ctx context.Context, opts FetchOptions) (Summary, error) {
	start := time.Now()
	var summary Summary

	if opts.TargetN <= 0 {
		return summary, fmt.Errorf("target article count must be positive, got %d", opts.TargetN)
	}
	if opts.Oversample <= 0 {
		opts.Oversample = 3
	}
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return summary, fmt.Errorf("creating output dir: %w", err)
	}

	var manifest *ManifestWriter
	if opts.ManifestPath != "" {
		var err error
		manifest, err = NewManifestWriter(opts.ManifestPath)
		if err != nil {
			return summary, err
		}
	}

	retmax := opts.TargetN * opts.Oversample
	f.logger.Info("searching pubmed", "query", opts.Query, "retmax", retmax)
	pmids, err := f.client.SearchPubMed(ctx, opts.Query, retmax)
	if err != nil {
		return summary, fmt.Errorf("searching pubmed: %w", err)
	}
	f.logger.Info("found pmids", "count", len(pmids))

	runID := time.Now().Format("20060102-150405")
	if manifest != nil {
		err := manifest.Append(RunRecord{
			Type:        RecordTypeRun,
			RunID:       runID,
			Timestamp:   time.Now().Format(time.RFC3339),
			Query:       opts.Query,
			TargetN:     opts.TargetN,
			QueryRetmax: retmax,
			RawDir:      opts.OutDir,
		})
		if err != nil {
			return summary, err
		}
	}

	for _, pmid := range pmids {
		if summary.Downloaded+summary.Skipped >= opts.TargetN {
			break
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		rec := f.fetchOne(ctx, pmid, runID, opts, &summary)
		if manifest != nil {
			if err := manifest.Append(rec); err != nil {
				return summary, err
			}
		}
	}

	observability.Audit().LogIngestRun(ctx, summary.Downloaded, summary.Skipped, summary.Failed, time.Since(start))
	f.logger.Info("fetch run complete",
		"downloaded", summary.Downloaded,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"no_link", summary.NoLink)
	return summary, nil
}

// fetchOne handles a single PMID and returns its manifest record.
func (f *Fetcher) fetchOne(ctx context.Context, pmid, runID string, opts FetchOptions, summary *Summary) ArticleRecord {
	rec := ArticleRecord{
		Type:      RecordTypeArticle,
		RunID:     runID,
		Timestamp: time.Now().Format(time.RFC3339),
		PMID:      pmid,
	}
	fail := func(msg string) ArticleRecord {
		rec.Error = &msg
		return rec
	}

	pmcNum, err := f.client.LinkPMC(ctx, pmid)
	if err != nil {
		f.logger.Warn("elink failed", "pmid", pmid, "error", err)
		summary.Failed++
		return fail(err.Error())
	}
	if pmcNum == "" {
		summary.NoLink++
		return fail("no_pmc_link")
	}

	pmcid := "PMC" + pmcNum
	rec.PMCID = &pmcid
	xmlPath := filepath.Join(opts.OutDir, pmcid+".xml")

	if opts.Resume {
		if _, err := os.Stat(xmlPath); err == nil {
			rec.XMLPath = &xmlPath
			rec.OK = true
			summary.Skipped++
			f.logger.Debug("skipped existing article", "pmcid", pmcid)
			return rec
		}
	}

	data, err := f.client.FetchPMCXML(ctx, pmcNum)
	if err != nil {
		f.logger.Error("efetch failed", "pmcid", pmcid, "error", err)
		summary.Failed++
		return fail("fetch_failed")
	}
	if err := os.WriteFile(xmlPath, data, 0o644); err != nil {
		f.logger.Error("writing article failed", "pmcid", pmcid, "error", err)
		summary.Failed++
		return fail(err.Error())
	}

	rec.XMLPath = &xmlPath
	rec.OK = true
	summary.Downloaded++
	f.logger.Info("downloaded article", "pmcid", pmcid)
	return rec
}
