// Package chunk turns parsed articles into the overlapping word-window
// records that form the retrieval unit of the pipeline.
package chunk

import (
	"fmt"
	"strings"
)

// Params holds the word-window parameters for a chunking run.
type Params struct {
	SizeWords    int
	OverlapWords int
	MinWords     int
}

// Validate rejects window parameters that can never produce a valid run.
func (p Params) Validate() error {
	if p.SizeWords <= 0 {
		return fmt.Errorf("%w: chunk size must be > 0, got %d", ErrInvalidParams, p.SizeWords)
	}
	if p.OverlapWords < 0 || p.OverlapWords >= p.SizeWords {
		return fmt.Errorf("%w: overlap must satisfy 0 <= overlap < size, got overlap=%d size=%d",
			ErrInvalidParams, p.OverlapWords, p.SizeWords)
	}
	return nil
}

// Window splits text into overlapping word windows.
//
// Texts shorter than MinWords yield nothing. Texts of at most SizeWords words
// yield a single window containing the whole text. Longer texts are covered
// by windows of SizeWords words advancing by SizeWords-OverlapWords each
// step; the final window may be shorter and is dropped again when it falls
// below MinWords. Windows never cross the boundaries of the given text.
func Window(text string, p Params) ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	words := strings.Fields(text)
	if len(words) < p.MinWords {
		return nil, nil
	}

	if len(words) <= p.SizeWords {
		return []string{strings.Join(words, " ")}, nil
	}

	var chunks []string
	step := p.SizeWords - p.OverlapWords
	for start := 0; start < len(words); start += step {
		end := start + p.SizeWords
		if end > len(words) {
			end = len(words)
		}
		if end-start >= p.MinWords {
			chunks = append(chunks, strings.Join(words[start:end], " "))
		}
	}
	return chunks, nil
}
