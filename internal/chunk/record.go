package chunk

import (
	"errors"

	"github.com/adrag/adrag/internal/pmc"
)

// ErrInvalidParams marks chunk-window configuration errors. These are fatal
// and surface before any output is written.
var ErrInvalidParams = errors.New("invalid chunking parameters")

// Record is one windowed slice of one article section. ChunkID is assigned
// globally during dataset construction, not per article; records produced by
// BuildRecords carry the zero value until then.
type Record struct {
	ChunkID             int     `json:"chunk_id"`
	PMCID               string  `json:"pmcid"`
	PMID                *string `json:"pmid"`
	SectionIndex        int     `json:"section_index"`
	SectionTitle        string  `json:"section_title"`
	ChunkIndexInSection int     `json:"chunk_index_in_section"`
	Text                string  `json:"text"`
	Journal             *string `json:"journal"`
	DOI                 *string `json:"doi"`
	Year                *string `json:"year"`
	Month               *string `json:"month"`
	SourceXML           string  `json:"source_xml"`
}

// BuildRecords windows every section of one parsed article into records, in
// section order then window order. pmid may be nil when the article has no
// known PubMed mapping.
func BuildRecords(article *pmc.Article, pmcid string, pmid *string, sourceXML string, p Params) ([]Record, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var records []Record
	for secIdx, sec := range article.Sections {
		windows, err := Window(sec.Text, p)
		if err != nil {
			return nil, err
		}
		for i, text := range windows {
			records = append(records, Record{
				PMCID:               pmcid,
				PMID:                pmid,
				SectionIndex:        secIdx,
				SectionTitle:        sec.Title,
				ChunkIndexInSection: i,
				Text:                text,
				Journal:             article.Metadata.Journal,
				DOI:                 article.Metadata.DOI,
				Year:                article.Metadata.Year,
				Month:               article.Metadata.Month,
				SourceXML:           sourceXML,
			})
		}
	}
	return records, nil
}
