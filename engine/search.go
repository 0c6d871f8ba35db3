package engine

import (
	"context"
	"errors"

	"github.com/drummonds/pdftiles/engine/pdfrenderer"
)

// SearchResult is one match of a document search
type SearchResult struct {
	Page       int
	MatchIndex int // character index of the match on the page
	Count      int
	Rects      []pdfrenderer.RectF
}

// SearchDocument finds query case-insensitively from startPage to the last page, then wraps
// around to the pages before it. Pages that fail are skipped.
func SearchDocument(ctx context.Context, doc *Document, query string, startPage int) ([]SearchResult, error) {
	n := doc.PageCount()
	if query == "" || n == 0 {
		return nil, nil
	}
	startPage = doc.ValidPage(startPage)

	var results []SearchResult
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		page := (startPage + i) % n
		matches, err := doc.SearchPage(page, query, false, false)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return results, err
			}
			Logger.Debug("Skipping page in search", "page", page, "error", err)
			continue
		}
		for _, m := range matches {
			results = append(results, SearchResult{Page: page, MatchIndex: m.Start, Count: m.Count, Rects: m.Rects})
		}
	}
	Logger.Debug("Search finished", "query", query, "matches", len(results))
	return results, nil
}
