package dirindex

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProber struct {
	mu       sync.Mutex
	statuses map[string]int
	errs     map[string]error
	delays   map[string]time.Duration
	calls    atomic.Int32
	seen     []string
}

func (s *stubProber) Probe(ctx context.Context, path string) (int, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.seen = append(s.seen, path)
	delay := s.delays[path]
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err := s.errs[path]; err != nil {
		return 0, err
	}
	if status, ok := s.statuses[path]; ok {
		return status, nil
	}
	return http.StatusOK, nil
}

func listingPage(t *testing.T, paths []string, placeholders int) *goquery.Document {
	t.Helper()
	var b strings.Builder
	b.WriteString("<html><body><table>")
	for i := 0; i < placeholders; i++ {
		b.WriteString(`<tr><td class="not-cached-locally">?</td><td>row</td></tr>`)
	}
	b.WriteString("</table></body></html>")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(b.String()))
	require.NoError(t, err)
	return doc
}

func placeholderHTML(t *testing.T, doc *goquery.Document, i int) string {
	t.Helper()
	html, err := doc.Find(".not-cached-locally").Eq(i).Html()
	require.NoError(t, err)
	return html
}

func TestAnnotateMarksOnlyNotFound(t *testing.T) {
	listing := Listing{"/a.txt", "/b.txt"}
	doc := listingPage(t, listing, 2)
	prober := &stubProber{statuses: map[string]int{"/a.txt": 200, "/b.txt": 404}}

	report, err := New(prober, Options{Strict: true}, nil).Annotate(context.Background(), doc.Selection, listing)
	require.NoError(t, err)

	assert.Equal(t, "?", placeholderHTML(t, doc, 0))
	assert.Equal(t, AttentionGlyphRendered, placeholderHTML(t, doc, 1))
	assert.Equal(t, []string{"/b.txt"}, report.Absent())
	assert.Equal(t, OutcomeCached, report.Entries[0].Outcome)
	assert.Equal(t, OutcomeAbsent, report.Entries[1].Outcome)
}

func TestAnnotateIgnoresIndeterminateOutcomes(t *testing.T) {
	listing := Listing{"/offline", "/broken", "/redirect"}
	doc := listingPage(t, listing, 3)
	prober := &stubProber{
		statuses: map[string]int{"/broken": 500, "/redirect": 302},
		errs:     map[string]error{"/offline": errors.New("dial tcp: connection refused")},
	}

	report, err := New(prober, Options{}, nil).Annotate(context.Background(), doc.Selection, listing)
	require.NoError(t, err)

	for i := range listing {
		assert.Equal(t, "?", placeholderHTML(t, doc, i), "placeholder %d should be untouched", i)
	}
	assert.Equal(t, 2, report.Count(OutcomeIndeterminate))
	assert.Equal(t, 1, report.Count(OutcomeCached))
	assert.Empty(t, report.Absent())
}

func TestAnnotateIsIdempotent(t *testing.T) {
	listing := Listing{"/x", "/y"}
	doc := listingPage(t, listing, 2)
	prober := &stubProber{statuses: map[string]int{"/x": 404, "/y": 404}}
	annotator := New(prober, Options{Strict: true}, nil)

	_, err := annotator.Annotate(context.Background(), doc.Selection, listing)
	require.NoError(t, err)
	first, err := doc.Html()
	require.NoError(t, err)

	_, err = annotator.Annotate(context.Background(), doc.Selection, listing)
	require.NoError(t, err)
	second, err := doc.Html()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, AttentionGlyphRendered, placeholderHTML(t, doc, 0))
}

func TestAnnotatePreservesOrderUnderShuffledCompletion(t *testing.T) {
	listing := Listing{"/0", "/1", "/2", "/3", "/4", "/5"}
	doc := listingPage(t, listing, len(listing))
	prober := &stubProber{
		statuses: map[string]int{"/0": 404, "/3": 404, "/4": 404},
		delays: map[string]time.Duration{
			"/0": 30 * time.Millisecond,
			"/1": 5 * time.Millisecond,
			"/2": 20 * time.Millisecond,
			"/3": 1 * time.Millisecond,
			"/4": 25 * time.Millisecond,
		},
	}

	report, err := New(prober, Options{Strict: true}, nil).Annotate(context.Background(), doc.Selection, listing)
	require.NoError(t, err)

	want := map[int]bool{0: true, 3: true, 4: true}
	for i := range listing {
		got := placeholderHTML(t, doc, i)
		if want[i] {
			assert.Equal(t, AttentionGlyphRendered, got, "index %d", i)
		} else {
			assert.Equal(t, "?", got, "index %d", i)
		}
		assert.Equal(t, listing[i], report.Entries[i].Path)
	}
}

func TestAnnotateDispatchesWithoutWaiting(t *testing.T) {
	listing := Listing{"/slow-a", "/slow-b", "/slow-c", "/slow-d"}
	doc := listingPage(t, listing, len(listing))
	delays := map[string]time.Duration{}
	for _, p := range listing {
		delays[p] = 100 * time.Millisecond
	}
	prober := &stubProber{delays: delays}

	started := time.Now()
	_, err := New(prober, Options{Strict: true}, nil).Annotate(context.Background(), doc.Selection, listing)
	require.NoError(t, err)

	assert.Less(t, time.Since(started), 350*time.Millisecond)
	assert.EqualValues(t, len(listing), prober.calls.Load())
}

func TestAnnotateEmptyListing(t *testing.T) {
	doc := listingPage(t, nil, 0)
	prober := &stubProber{}

	report, err := New(prober, Options{Strict: true}, nil).Annotate(context.Background(), doc.Selection, nil)
	require.NoError(t, err)

	assert.Empty(t, report.Entries)
	assert.Zero(t, prober.calls.Load())
}

func TestAnnotateStrictRejectsMismatchBeforeProbing(t *testing.T) {
	listing := Listing{"/a", "/b", "/c"}
	doc := listingPage(t, listing, 2)
	prober := &stubProber{}

	_, err := New(prober, Options{Strict: true}, nil).Annotate(context.Background(), doc.Selection, listing)

	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 3, mismatch.Paths)
	assert.Equal(t, 2, mismatch.Nodes)
	assert.Zero(t, prober.calls.Load())
}

func TestAnnotateLenientMismatchIsolatesEntries(t *testing.T) {
	listing := Listing{"/a", "/b", "/c"}
	doc := listingPage(t, listing, 2)
	prober := &stubProber{statuses: map[string]int{"/a": 404, "/b": 404, "/c": 404}}

	report, err := New(prober, Options{}, nil).Annotate(context.Background(), doc.Selection, listing)
	require.NoError(t, err)

	require.NotNil(t, report.Mismatch)
	assert.Equal(t, AttentionGlyphRendered, placeholderHTML(t, doc, 0))
	assert.Equal(t, AttentionGlyphRendered, placeholderHTML(t, doc, 1))
	assert.Equal(t, OutcomeUnbound, report.Entries[2].Outcome)
	assert.EqualValues(t, 2, prober.calls.Load())
}

func TestAnnotateLenientSurplusPlaceholdersUntouched(t *testing.T) {
	listing := Listing{"/a", "/b"}
	doc := listingPage(t, listing, 4)
	prober := &stubProber{statuses: map[string]int{"/a": 404, "/b": 404}}

	report, err := New(prober, Options{}, nil).Annotate(context.Background(), doc.Selection, listing)
	require.NoError(t, err)

	require.NotNil(t, report.Mismatch)
	assert.Equal(t, 2, report.Mismatch.Paths)
	assert.Equal(t, 4, report.Mismatch.Nodes)
	require.Len(t, report.Entries, 2)
	assert.Equal(t, AttentionGlyphRendered, placeholderHTML(t, doc, 0))
	assert.Equal(t, AttentionGlyphRendered, placeholderHTML(t, doc, 1))
	assert.Equal(t, "?", placeholderHTML(t, doc, 2))
	assert.Equal(t, "?", placeholderHTML(t, doc, 3))
	assert.EqualValues(t, 2, prober.calls.Load())
}

func TestAnnotateRecoversPanicPerEntry(t *testing.T) {
	listing := Listing{"/boom", "/gone"}
	doc := listingPage(t, listing, 2)
	prober := ProbeFunc(func(ctx context.Context, path string) (int, error) {
		if path == "/boom" {
			panic("probe exploded")
		}
		return http.StatusNotFound, nil
	})

	report, err := New(prober, Options{Strict: true}, nil).Annotate(context.Background(), doc.Selection, listing)
	require.NoError(t, err)

	assert.Equal(t, OutcomeIndeterminate, report.Entries[0].Outcome)
	assert.Error(t, report.Entries[0].Err)
	assert.Equal(t, "?", placeholderHTML(t, doc, 0))
	assert.Equal(t, AttentionGlyphRendered, placeholderHTML(t, doc, 1))
}

func TestAnnotateRequiresProber(t *testing.T) {
	doc := listingPage(t, nil, 0)
	_, err := New(nil, Options{}, nil).Annotate(context.Background(), doc.Selection, nil)
	assert.Error(t, err)
}

// AttentionGlyphRendered 是 AttentionGlyph 经 x/net/html 解析再序列化后的形式，
// &nbsp; 会被还原为 U+00A0。
const AttentionGlyphRendered = "<div title=\"File not cached locally\" class=\"icon-attention\">\u00a0</div>"
