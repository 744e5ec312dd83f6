package chooser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/benjspriggs/chooser/internal/cache"
	"github.com/benjspriggs/chooser/internal/manifest"
	"github.com/benjspriggs/chooser/internal/picker"
	"github.com/benjspriggs/chooser/internal/tinify"
)

type fakeCompressor struct {
	shrinkCalls   []string
	shrinkErr     error
	outputURL     string
	outputType    string
	downloadBytes []byte
	downloadErr   error
}

func (f *fakeCompressor) Shrink(_ context.Context, sourceURL string) (tinify.Result, error) {
	f.shrinkCalls = append(f.shrinkCalls, sourceURL)
	if f.shrinkErr != nil {
		return tinify.Result{Date: "Mon, 02 Jan 2006 15:04:05 GMT"}, f.shrinkErr
	}
	return tinify.Result{
		URL:      f.outputURL,
		MIMEType: f.outputType,
		Date:     "Mon, 02 Jan 2006 15:04:05 GMT",
	}, nil
}

func (f *fakeCompressor) Download(_ context.Context, _ string) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.downloadBytes, nil
}

// newImageServer serves fake image bytes for any path except those under
// /missing/.
func newImageServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/missing/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeURLs(t *testing.T, urls ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "urls.txt")
	if err := os.WriteFile(path, []byte(strings.Join(urls, "\n")+"\n"), 0o600); err != nil {
		t.Fatalf("failed to write url list: %v", err)
	}
	return path
}

func newTestChooser(t *testing.T, urlsPath string, opts ...Option) (*Chooser, manifest.Store) {
	t.Helper()

	dir := t.TempDir()
	store := manifest.NewFileStore(filepath.Join(dir, "manifest.json"))
	imgCache := cache.New(filepath.Join(dir, "cache"))
	logger := zaptest.NewLogger(t)

	ch := New(urlsPath, "https://cdn.example.com/", store, imgCache, picker.New(7), logger, opts...)
	return ch, store
}

func TestRespondReturnsListedImage(t *testing.T) {
	srv := newImageServer(t)
	urls := []string{srv.URL + "/a.jpg", srv.URL + "/b.jpg", srv.URL + "/c.jpg"}
	ch, _ := newTestChooser(t, writeURLs(t, urls...))

	img, err := ch.Respond(context.Background())
	if err != nil {
		t.Fatalf("Respond returned error: %v", err)
	}

	found := false
	for _, u := range urls {
		if img.URL == u {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("responded with %q, not a member of the list", img.URL)
	}
	if img.MIMEType != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %s", img.MIMEType)
	}
}

func TestRespondEmptyList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	if err := os.WriteFile(path, []byte("\n"), 0o600); err != nil {
		t.Fatalf("failed to write url list: %v", err)
	}
	ch, _ := newTestChooser(t, path)

	_, err := ch.Respond(context.Background())
	if !errors.Is(err, picker.ErrEmptyList) {
		t.Fatalf("expected ErrEmptyList, got %v", err)
	}
}

func TestRespondMissingURLList(t *testing.T) {
	ch, _ := newTestChooser(t, filepath.Join(t.TempDir(), "nope.txt"))

	if _, err := ch.Respond(context.Background()); err == nil {
		t.Fatalf("expected error for missing url list")
	}
}

func TestRespondDeterministicUnderFixedSeed(t *testing.T) {
	srv := newImageServer(t)
	urls := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		urls = append(urls, fmt.Sprintf("%s/img-%d.jpg", srv.URL, i))
	}

	run := func() string {
		ch, _ := newTestChooser(t, writeURLs(t, urls...))
		img, err := ch.Respond(context.Background())
		if err != nil {
			t.Fatalf("Respond returned error: %v", err)
		}
		return img.URL
	}

	if first, second := run(), run(); first != second {
		t.Fatalf("expected identical picks under a fixed seed, got %q and %q", first, second)
	}
}

func TestRespondConcurrentRequests(t *testing.T) {
	srv := newImageServer(t)
	urls := []string{srv.URL + "/a.jpg", srv.URL + "/b.jpg", srv.URL + "/c.jpg"}
	ch, _ := newTestChooser(t, writeURLs(t, urls...))

	// Warm the manifest so the goroutines exercise the selection path.
	if err := ch.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				img, err := ch.Respond(context.Background())
				if err != nil {
					t.Errorf("Respond returned error: %v", err)
					return
				}
				found := false
				for _, u := range urls {
					if img.URL == u {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("responded with %q, not a member of the list", img.URL)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestRebuildKeepsCachedEntryFromURLList(t *testing.T) {
	dir := t.TempDir()
	store := manifest.NewFileStore(filepath.Join(dir, "manifest.json"))
	imgCache := cache.New(filepath.Join(dir, "cache"))
	if _, err := imgCache.Put("abc123.png", "image/png", []byte("shrunk")); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	// A previous rebuild rewrote the urls file with the cache-prefixed URL.
	cachedURL := "https://cdn.example.com/cache/abc123.png"
	urlsPath := writeURLs(t, cachedURL)

	comp := &fakeCompressor{}
	ch := New(urlsPath, "https://cdn.example.com/", store, imgCache, picker.New(7), zaptest.NewLogger(t), WithCompressor(comp))

	if err := ch.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	m, err := store.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(m.Images) != 1 {
		t.Fatalf("expected 1 image, got %+v", m.Images)
	}

	img := m.Images[0]
	if img.URL != cachedURL {
		t.Fatalf("expected %s, got %s", cachedURL, img.URL)
	}
	if !img.Cached {
		t.Fatalf("expected entry to keep its cached flag, got %+v", img)
	}
	if len(comp.shrinkCalls) != 0 {
		t.Fatalf("expected no shrink calls for a cached entry, got %v", comp.shrinkCalls)
	}
}

func TestRefreshDropsUnreachableAndRewritesList(t *testing.T) {
	srv := newImageServer(t)
	good := srv.URL + "/good.jpg"
	bad := srv.URL + "/missing/bad.jpg"
	urlsPath := writeURLs(t, good, bad)
	ch, store := newTestChooser(t, urlsPath)

	if err := ch.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	m, err := store.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(m.Images) != 1 || m.Images[0].URL != good {
		t.Fatalf("expected only the reachable image, got %+v", m.Images)
	}
	if m.Hash == "" || m.ID == "" {
		t.Fatalf("expected hash and id to be stamped, got %+v", m)
	}

	kept, err := picker.Load(urlsPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(kept) != 1 || kept[0] != good {
		t.Fatalf("expected url list rewritten to reachable urls, got %v", kept)
	}
}

func TestRefreshSkipsRebuildWhenListUnchanged(t *testing.T) {
	srv := newImageServer(t)
	ch, store := newTestChooser(t, writeURLs(t, srv.URL+"/a.jpg"))

	if err := ch.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh returned error: %v", err)
	}
	first, err := store.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if err := ch.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh returned error: %v", err)
	}
	second, err := store.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if first.Hash != second.Hash || first.ID != second.ID {
		t.Fatalf("expected stable manifest, got %+v then %+v", first, second)
	}
}

func TestCompressRewritesURLWithCachePrefix(t *testing.T) {
	srv := newImageServer(t)
	source := srv.URL + "/photo.jpg"
	comp := &fakeCompressor{
		outputURL:     "https://api.tinify.com/output/abc123",
		outputType:    "image/png",
		downloadBytes: []byte("shrunk"),
	}
	ch, store := newTestChooser(t, writeURLs(t, source), WithCompressor(comp))

	if err := ch.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	m, err := store.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(m.Images) != 1 {
		t.Fatalf("expected 1 image, got %+v", m.Images)
	}

	img := m.Images[0]
	if img.URL != "https://cdn.example.com/cache/abc123.png" {
		t.Fatalf("expected cache-prefixed url, got %s", img.URL)
	}
	if img.OriginalURL != source {
		t.Fatalf("expected original url %s, got %s", source, img.OriginalURL)
	}
	if !img.Cached || img.LastCached == "" {
		t.Fatalf("expected image marked cached with timestamp, got %+v", img)
	}
}

func TestCompressFailureKeepsOriginalURL(t *testing.T) {
	srv := newImageServer(t)
	source := srv.URL + "/photo.jpg"
	comp := &fakeCompressor{shrinkErr: &tinify.APIError{Status: http.StatusTooManyRequests}}
	ch, store := newTestChooser(t, writeURLs(t, source), WithCompressor(comp))

	if err := ch.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	m, err := store.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(m.Images) != 1 {
		t.Fatalf("expected 1 image, got %+v", m.Images)
	}

	img := m.Images[0]
	if img.URL != source {
		t.Fatalf("expected original url to survive, got %s", img.URL)
	}
	if img.Error != http.StatusTooManyRequests {
		t.Fatalf("expected upstream status recorded, got %d", img.Error)
	}
}

func TestCompressSkipsAlreadyCachedEntries(t *testing.T) {
	srv := newImageServer(t)
	source := srv.URL + "/photo.jpg"
	comp := &fakeCompressor{
		outputURL:     "https://api.tinify.com/output/abc123",
		outputType:    "image/png",
		downloadBytes: []byte("shrunk"),
	}
	ch, _ := newTestChooser(t, writeURLs(t, source), WithCompressor(comp))

	if err := ch.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh returned error: %v", err)
	}
	if err := ch.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh returned error: %v", err)
	}

	if len(comp.shrinkCalls) != 1 {
		t.Fatalf("expected a single shrink call, got %v", comp.shrinkCalls)
	}
}
