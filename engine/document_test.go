package engine

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/drummonds/pdftiles/engine/pdfrenderer/pdfrenderertest"
)

func TestOpen_ErrorKinds(t *testing.T) {
	corrupt := pdfrenderertest.New(1, 100, 100)
	corrupt.Corrupt = true
	locked := pdfrenderertest.New(1, 100, 100)
	locked.Password = "secret"

	cases := []struct {
		name     string
		renderer *pdfrenderertest.Renderer
		src      Source
		password string
		want     OpenErrorKind
	}{
		{"corrupt", corrupt, BytesSource("x"), "", OpenErrorCorrupt},
		{"wrong password", locked, BytesSource("x"), "guess", OpenErrorWrongPassword},
		{"missing file", pdfrenderertest.New(1, 100, 100), FileSource(filepath.Join(t.TempDir(), "none.pdf")), "", OpenErrorIO},
	}
	for _, tc := range cases {
		_, err := Open(tc.renderer, tc.src, Options{Password: tc.password})
		var oe *OpenError
		if !errors.As(err, &oe) {
			t.Errorf("%s: expected *OpenError, got %v", tc.name, err)
			continue
		}
		if oe.Kind != tc.want {
			t.Errorf("%s: kind = %v, want %v", tc.name, oe.Kind, tc.want)
		}
	}

	doc, err := Open(locked, BytesSource("x"), Options{Password: "secret"})
	if err != nil {
		t.Fatalf("correct password rejected: %v", err)
	}
	doc.Close()
}

func TestOpen_HashIsContentBased(t *testing.T) {
	r := pdfrenderertest.New(2, 100, 100)
	a, err := Open(r, BytesSource("same"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Open(r, BytesSource("same"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	c, err := Open(r, BytesSource("other"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if a.Hash() != b.Hash() || a.Hash() == c.Hash() {
		t.Errorf("hashes: %s %s %s", a.Hash(), b.Hash(), c.Hash())
	}
}

func TestOpen_UserPages(t *testing.T) {
	r := pdfrenderertest.New(3, 100, 200)
	r.Pages[2].Right = 300
	doc, err := Open(r, BytesSource("x"), Options{UserPages: []int{0, 0, 2, 2, 2, 1, 7, -1}})
	if err != nil {
		t.Fatal(err)
	}
	defer doc.Close()

	if doc.PageCount() != 3 {
		t.Fatalf("PageCount = %d, want 3", doc.PageCount())
	}
	for page, want := range []int{0, 2, 1} {
		if got := doc.DocumentPage(page); got != want {
			t.Errorf("DocumentPage(%d) = %d, want %d", page, got, want)
		}
	}
	if doc.DocumentPage(3) != -1 {
		t.Error("pages past the end should map to -1")
	}
	if got := doc.PageSize(1).Width; got != 300 {
		t.Errorf("PageSize(1).Width = %d, want 300 (document page 2)", got)
	}
	if doc.ValidPage(-4) != 0 || doc.ValidPage(9) != 2 {
		t.Error("ValidPage should clamp into the displayed range")
	}
}

func TestOpenPage_FailsFast(t *testing.T) {
	r := pdfrenderertest.New(8, 100, 100)
	r.FailOpen[5] = true
	doc := openTestDoc(t, r, 100, 100)

	err := doc.OpenPage(5)
	var pre *PageRenderError
	if !errors.As(err, &pre) || pre.Page != 5 {
		t.Fatalf("expected PageRenderError for page 5, got %v", err)
	}
	if !errors.Is(err, pdfrenderertest.ErrInjected) {
		t.Error("page error should wrap the engine error")
	}
	if err := doc.OpenPage(5); err == nil {
		t.Fatal("second open of a failed page should fail")
	}
	if _, err := doc.PageText(5); err == nil {
		t.Error("queries on a failed page should fail")
	}
	if n := r.Calls("open_page:5"); n != 1 {
		t.Errorf("engine opened page 5 %d times, want 1", n)
	}
	if !doc.PageHasError(5) || doc.PageHasError(4) {
		t.Error("PageHasError should only report page 5")
	}

	if err := doc.OpenPage(4); err != nil {
		t.Fatalf("other pages should still open: %v", err)
	}
	if err := doc.OpenPage(4); err != nil {
		t.Fatal(err)
	}
	if n := r.Calls("open_page:4"); n != 1 {
		t.Errorf("reopening a resident page reached the engine %d times", n)
	}
}

func TestOpenPage_OutOfRange(t *testing.T) {
	doc := openTestDoc(t, pdfrenderertest.New(2, 100, 100), 100, 100)
	if err := doc.OpenPage(2); !errors.Is(err, ErrPageOutOfRange) {
		t.Errorf("expected ErrPageOutOfRange, got %v", err)
	}
}

func TestClose_ClosesPagesThenDocumentOnce(t *testing.T) {
	r := pdfrenderertest.New(3, 100, 100)
	doc, err := Open(r, BytesSource("x"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := doc.OpenPage(i); err != nil {
			t.Fatal(err)
		}
	}
	native := r.Documents()[0]
	if native.OpenPages() != 3 {
		t.Fatalf("OpenPages = %d, want 3", native.OpenPages())
	}

	if err := doc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := doc.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
	if native.OpenPages() != 0 {
		t.Errorf("%d page handles left open", native.OpenPages())
	}
	if native.CloseCount() != 1 {
		t.Errorf("document closed %d times, want 1", native.CloseCount())
	}
	if err := doc.OpenPage(0); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}

func TestTextQueries_UseTransientPages(t *testing.T) {
	r := pdfrenderertest.New(2, 200, 100)
	r.PageText[1] = "Hello there, hello"
	doc := openTestDoc(t, r, 200, 100)

	text, err := doc.PageText(1)
	if err != nil || text != "Hello there, hello" {
		t.Fatalf("PageText = %q, %v", text, err)
	}
	sub, err := doc.PageTextRange(1, 6, 5)
	if err != nil || sub != "there" {
		t.Errorf("PageTextRange = %q, %v", sub, err)
	}
	idx, err := doc.CharIndexAt(1, 25, 15)
	if err != nil || idx != 2 {
		t.Errorf("CharIndexAt = %d, %v, want 2", idx, err)
	}
	matches, err := doc.SearchPage(1, "hello", false, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 || matches[1].Start != 13 || len(matches[1].Rects) != 1 {
		t.Errorf("unexpected matches: %+v", matches)
	}
	links, err := doc.Links(1)
	if err != nil || len(links) != 1 || links[0].DestPage != 0 {
		t.Errorf("Links = %+v, %v", links, err)
	}
	marks, err := doc.Bookmarks()
	if err != nil || len(marks) != 2 {
		t.Errorf("Bookmarks = %+v, %v", marks, err)
	}

	if open := r.Documents()[0].OpenPages(); open != 0 {
		t.Errorf("transient queries left %d pages open", open)
	}
}
