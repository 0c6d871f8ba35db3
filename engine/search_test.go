package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/drummonds/pdftiles/engine/pdfrenderer/pdfrenderertest"
)

func TestSearchDocument_WrapsAroundAndSkipsBrokenPages(t *testing.T) {
	r := pdfrenderertest.New(4, 200, 100)
	r.PageText[0] = "hello world"
	r.PageText[1] = "hello from a broken page"
	r.PageText[2] = "say Hello twice, HELLO"
	r.PageText[3] = "nothing here"
	r.FailOpen[1] = true
	doc := openTestDoc(t, r, 200, 100)

	results, err := SearchDocument(context.Background(), doc, "hello", 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []struct{ page, index int }{{2, 4}, {2, 17}, {0, 0}}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d: %+v", len(results), len(want), results)
	}
	for i, w := range want {
		if results[i].Page != w.page || results[i].MatchIndex != w.index {
			t.Errorf("result %d = page %d index %d, want page %d index %d",
				i, results[i].Page, results[i].MatchIndex, w.page, w.index)
		}
		if len(results[i].Rects) == 0 {
			t.Errorf("result %d has no rectangles", i)
		}
	}
}

func TestSearchDocument_Cancelled(t *testing.T) {
	r := pdfrenderertest.New(3, 200, 100)
	doc := openTestDoc(t, r, 200, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := SearchDocument(ctx, doc, "x", 0); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSearchDocument_EmptyQuery(t *testing.T) {
	doc := openTestDoc(t, pdfrenderertest.New(2, 200, 100), 200, 100)
	results, err := SearchDocument(context.Background(), doc, "", 0)
	if err != nil || results != nil {
		t.Errorf("empty query returned %v, %v", results, err)
	}
}
