package doc

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

var (
	// ErrLoad marks a document that could not be decoded or reached at all.
	// It surfaces as a full-viewport error state; nothing partial is shown.
	ErrLoad = errors.New("document load failed")
	// ErrClosed is returned for any page access after Close.
	ErrClosed = errors.New("document source closed")
)

// Page handles are decoded lazily; the cache bounds memory to roughly one
// document's worth of recently touched pages.
const pageCacheSize = 64

// Letter-sized fallback for pages whose MediaBox is missing entirely.
const (
	defaultPageWidthPt  = 612.0
	defaultPageHeightPt = 792.0
)

// TextRun is one positioned text fragment of a page's text layer.
// Coordinates are in 72-units-per-inch page space with a top-left origin.
type TextRun struct {
	S    string
	X    float64
	Y    float64
	W    float64
	Size float64
}

// PageHandle is the decoded form of a single page. It is owned by the
// Source that produced it; renderers borrow it for one rasterization pass
// and must not retain it across a document switch.
type PageHandle struct {
	Number int
	Width  float64 // points
	Height float64 // points
	Runs   []TextRun
}

// Source resolves page numbers to lazily decoded, cached page handles.
// All handles are released together when the source is closed or replaced.
type Source struct {
	id       string
	numPages int

	mu     sync.Mutex
	closed bool
	pages  *lru.Cache[int, *PageHandle]
	decode func(n int) (*PageHandle, error)
	closer io.Closer

	log *zap.Logger
}

// Open decodes a document from a local file.
func Open(path string, log *zap.Logger) (*Source, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoad, path, err)
	}
	return newSource(fingerprint(path), reader, file, log)
}

// OpenBytes decodes a document held in memory.
func OpenBytes(id string, data []byte, log *zap.Logger) (*Source, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	if id == "" {
		sum := sha1.Sum(data)
		id = hex.EncodeToString(sum[:])
	}
	return newSource(id, reader, nil, log)
}

// OpenURL fetches a document over HTTP (through the on-disk fetch cache
// rooted at cacheDir, empty for the default location) and decodes it.
func OpenURL(ctx context.Context, url, cacheDir string, log *zap.Logger) (*Source, error) {
	cache, err := newFetchCache(cacheDir, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	path, err := cache.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	return Open(path, log)
}

func newSource(id string, reader *pdf.Reader, closer io.Closer, log *zap.Logger) (*Source, error) {
	n := reader.NumPage()
	if n <= 0 {
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("%w: document has no pages", ErrLoad)
	}
	s, err := NewSourceFunc(id, n, func(page int) (*PageHandle, error) {
		return decodePage(reader, page)
	}, log)
	if err != nil {
		return nil, err
	}
	s.closer = closer
	return s, nil
}

// NewSourceFunc builds a source over a custom page decoder, for document
// backends other than the built-in PDF reader. The decoder is invoked at
// most once per page while the handle stays cached.
func NewSourceFunc(id string, numPages int, decode func(n int) (*PageHandle, error), log *zap.Logger) (*Source, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if numPages <= 0 {
		return nil, fmt.Errorf("%w: document has no pages", ErrLoad)
	}
	cache, err := lru.New[int, *PageHandle](pageCacheSize)
	if err != nil {
		return nil, err
	}
	return &Source{
		id:       id,
		numPages: numPages,
		pages:    cache,
		decode:   decode,
		log:      log,
	}, nil
}

// ID is a stable identifier for the open document.
func (s *Source) ID() string { return s.id }

// NumPages reports the page count of the open document.
func (s *Source) NumPages() int { return s.numPages }

// Page returns the cached handle for a 1-indexed page, decoding it on
// first access. Decoding is serialized per source.
func (s *Source) Page(n int) (*PageHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if n < 1 || n > s.numPages {
		return nil, fmt.Errorf("page %d out of range [1,%d]", n, s.numPages)
	}
	if handle, ok := s.pages.Get(n); ok {
		return handle, nil
	}
	handle, err := s.decode(n)
	if err != nil {
		return nil, err
	}
	s.pages.Add(n, handle)
	return handle, nil
}

// Close releases every cached handle and the underlying decode resources.
// Must complete before a new document begins loading so memory stays
// bounded to one document at a time.
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.pages.Purge()
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			s.log.Warn("closing document backing file", zap.Error(err))
		}
	}
}

// decodePage extracts the measured size and positioned text runs of one
// page. The underlying parser panics on malformed content streams, so the
// panic is converted into an error here.
func decodePage(reader *pdf.Reader, number int) (handle *PageHandle, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decoding page %d: %v", number, r)
		}
	}()

	page := reader.Page(number)
	if page.V.IsNull() {
		return nil, fmt.Errorf("page %d missing from page tree", number)
	}

	width, height := pageSize(page)
	content := page.Content()
	runs := make([]TextRun, 0, len(content.Text))
	for _, t := range content.Text {
		if t.S == "" {
			continue
		}
		runs = append(runs, TextRun{
			S:    t.S,
			X:    t.X,
			Y:    height - t.Y, // PDF content space is bottom-left origin
			W:    t.W,
			Size: t.FontSize,
		})
	}
	return &PageHandle{Number: number, Width: width, Height: height, Runs: runs}, nil
}

// pageSize resolves the MediaBox, walking up the page tree because the
// attribute is inheritable.
func pageSize(page pdf.Page) (float64, float64) {
	for v := page.V; !v.IsNull(); v = v.Key("Parent") {
		box := v.Key("MediaBox")
		if box.IsNull() || box.Len() < 4 {
			continue
		}
		w := box.Index(2).Float64() - box.Index(0).Float64()
		h := box.Index(3).Float64() - box.Index(1).Float64()
		if w > 0 && h > 0 {
			return w, h
		}
	}
	return defaultPageWidthPt, defaultPageHeightPt
}

func fingerprint(path string) string {
	if info, err := os.Stat(path); err == nil {
		sum := sha1.Sum([]byte(fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())))
		return hex.EncodeToString(sum[:])
	}
	sum := sha1.Sum([]byte(path))
	return hex.EncodeToString(sum[:])
}
