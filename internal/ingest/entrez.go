// Package ingest downloads PMC full-text XML through the NCBI E-utilities.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the NCBI E-utilities endpoint.
const DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// EntrezClient talks to the NCBI E-utilities. NCBI allows 3 requests per
// second without an API key and 10 with one; the client enforces the limit
// itself so callers can loop freely.
type EntrezClient struct {
	baseURL string
	email   string
	apiKey  string
	tool    string
	limiter *rate.Limiter
	http    *http.Client
}

// EntrezConfig configures an EntrezClient.
type EntrezConfig struct {
	BaseURL           string
	Email             string
	APIKey            string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// NewEntrezClient creates a client. Email identifies the caller to NCBI and
// should always be set.
func NewEntrezClient(cfg EntrezConfig) *EntrezClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		if cfg.APIKey != "" {
			cfg.RequestsPerSecond = 10
		} else {
			cfg.RequestsPerSecond = 3
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &EntrezClient{
		baseURL: cfg.BaseURL,
		email:   cfg.Email,
		apiKey:  cfg.APIKey,
		tool:    "adrag",
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *EntrezClient) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params.Set("tool", c.tool)
	if c.email != "" {
		params.Set("email", c.email)
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	u := fmt.Sprintf("%s/%s?%s", c.baseURL, endpoint, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("entrez %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("entrez %s: reading response: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("entrez %s: status %d: %s", endpoint, resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// SearchPubMed searches PubMed sorted by relevance and returns up to retmax
// PMIDs.
func (c *EntrezClient) SearchPubMed(ctx context.Context, query string, retmax int) ([]string, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", query)
	params.Set("retmax", fmt.Sprintf("%d", retmax))
	params.Set("sort", "relevance")
	params.Set("retmode", "json")

	body, err := c.get(ctx, "esearch.fcgi", params)
	if err != nil {
		return nil, err
	}

	var res struct {
		ESearchResult struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("entrez esearch: decoding response: %w", err)
	}
	return res.ESearchResult.IDList, nil
}

// LinkPMC maps a PMID to its PMC numeric id via elink. Returns "" when the
// article has no PMC full text.
func (c *EntrezClient) LinkPMC(ctx context.Context, pmid string) (string, error) {
	params := url.Values{}
	params.Set("dbfrom", "pubmed")
	params.Set("id", pmid)
	params.Set("linkname", "pubmed_pmc")
	params.Set("retmode", "json")

	body, err := c.get(ctx, "elink.fcgi", params)
	if err != nil {
		return "", err
	}

	var res struct {
		LinkSets []struct {
			LinkSetDBs []struct {
				Links []string `json:"links"`
			} `json:"linksetdbs"`
		} `json:"linksets"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("entrez elink: decoding response: %w", err)
	}
	if len(res.LinkSets) == 0 || len(res.LinkSets[0].LinkSetDBs) == 0 {
		return "", nil
	}
	links := res.LinkSets[0].LinkSetDBs[0].Links
	if len(links) == 0 {
		return "", nil
	}
	return links[0], nil
}

// FetchPMCXML downloads the full-text JATS XML for a PMC numeric id.
func (c *EntrezClient) FetchPMCXML(ctx context.Context, pmcNum string) ([]byte, error) {
	params := url.Values{}
	params.Set("db", "pmc")
	params.Set("id", pmcNum)
	params.Set("rettype", "full")
	params.Set("retmode", "xml")

	return c.get(ctx, "efetch.fcgi", params)
}
