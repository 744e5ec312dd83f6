package chooser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sync"

	"go.uber.org/zap"

	"github.com/benjspriggs/chooser/internal/cache"
	"github.com/benjspriggs/chooser/internal/manifest"
	"github.com/benjspriggs/chooser/internal/picker"
	"github.com/benjspriggs/chooser/internal/tinify"
)

// cacheURLSegment is the path segment under which cached images are served.
const cacheURLSegment = "cache/"

// Compressor abstracts the external image compression API.
type Compressor interface {
	Shrink(ctx context.Context, sourceURL string) (tinify.Result, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// Chooser picks a random background image from the configured URL list,
// keeping a manifest of candidates and a local cache of compressed copies.
type Chooser struct {
	urlsPath    string
	cachePrefix string
	store       manifest.Store
	cache       *cache.Cache
	pick        *picker.Picker
	logger      *zap.Logger

	compressor Compressor
	httpClient *http.Client

	mu sync.Mutex
}

// Option configures Chooser behaviour.
type Option func(*Chooser)

// WithCompressor enables compression of uncached images through the given
// client. Without it, images are served at their original URLs.
func WithCompressor(c Compressor) Option {
	return func(ch *Chooser) {
		ch.compressor = c
	}
}

// WithHTTPClient overrides the client used to validate listed URLs.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(ch *Chooser) {
		ch.httpClient = httpClient
	}
}

// New constructs a Chooser with the provided dependencies.
func New(urlsPath, cachePrefix string, store manifest.Store, imgCache *cache.Cache, pick *picker.Picker, logger *zap.Logger, opts ...Option) *Chooser {
	ch := &Chooser{
		urlsPath:    urlsPath,
		cachePrefix: cachePrefix,
		store:       store,
		cache:       imgCache,
		pick:        pick,
		logger:      logger,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// Respond refreshes the manifest and returns one valid image chosen
// uniformly at random. It returns picker.ErrEmptyList when no valid images
// remain.
func (ch *Chooser) Respond(ctx context.Context) (manifest.Image, error) {
	if err := ch.Refresh(ctx); err != nil {
		return manifest.Image{}, err
	}

	m, err := ch.store.Load()
	if err != nil {
		return manifest.Image{}, err
	}

	valid := m.ValidImages()
	i, err := ch.pick.Index(len(valid))
	if err != nil {
		return manifest.Image{}, err
	}
	return valid[i], nil
}

// Images returns the current manifest entries.
func (ch *Chooser) Images() ([]manifest.Image, error) {
	m, err := ch.store.Load()
	if err != nil {
		return nil, err
	}
	return m.Images, nil
}

// Refresh brings the manifest in line with the URL list. When the list file
// has changed since the last run the candidate set is rebuilt and every
// listed URL revalidated; afterwards any uncached entry is sent to the
// compressor. Compression failures are recorded on the entry and never abort
// the refresh.
func (ch *Chooser) Refresh(ctx context.Context) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	m, err := ch.store.Load()
	if err != nil {
		ch.logger.Warn("discarding unreadable manifest", zap.Error(err))
		m = manifest.Manifest{}
	}

	hash, err := manifest.FileSHA1(ch.urlsPath)
	if err != nil {
		return fmt.Errorf("hash url list: %w", err)
	}

	if m.Hash != hash {
		ch.logger.Debug("url list changed, rebuilding manifest", zap.String("hash", hash))
		if err := ch.rebuild(ctx, &m); err != nil {
			return err
		}
	}

	if ch.compressor != nil {
		ch.compressUncached(ctx, &m)
	}

	if err := ch.store.Save(&m); err != nil {
		return err
	}
	return nil
}

// rebuild reads the URL list, merges in everything already present in the
// local cache, validates each candidate, and rewrites the list with only the
// URLs that survived.
func (ch *Chooser) rebuild(ctx context.Context, m *manifest.Manifest) error {
	urls, err := picker.Load(ch.urlsPath)
	if err != nil {
		return err
	}

	// Cache entries go in first so that a cache-prefixed URL written into
	// the urls file by an earlier rebuild keeps its Cached flag instead of
	// being revalidated (and re-compressed) as a plain URL.
	seen := make(map[string]struct{}, len(urls))
	images := make([]manifest.Image, 0, len(urls))
	for _, key := range ch.cache.Keys() {
		u := ch.cachePrefix + cacheURLSegment + key
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		images = append(images, manifest.Image{
			URL:      u,
			MIMEType: mimeTypeForKey(key),
			Cached:   true,
		})
	}

	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		images = append(images, manifest.Image{URL: u})
	}

	valid := make([]manifest.Image, 0, len(images))
	for _, img := range images {
		img = ch.fetch(ctx, img)
		if img.Valid() {
			valid = append(valid, img)
		} else {
			ch.logger.Debug("dropping unreachable image",
				zap.String("url", img.URL),
				zap.Int("status", img.Error),
			)
		}
	}

	m.Images = valid

	kept := make([]string, 0, len(valid))
	for _, img := range valid {
		kept = append(kept, img.URL)
	}
	if err := picker.Save(ch.urlsPath, kept); err != nil {
		return err
	}

	// The rewrite above changed the file, so hash the result.
	hash, err := manifest.FileSHA1(ch.urlsPath)
	if err != nil {
		return fmt.Errorf("hash url list: %w", err)
	}
	m.Hash = hash
	return nil
}

// fetch validates a single candidate with a GET, recording the upstream
// status on failure. Cached entries are trusted as-is.
func (ch *Chooser) fetch(ctx context.Context, img manifest.Image) manifest.Image {
	if img.Cached {
		return img
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, img.URL, nil)
	if err != nil {
		img.Error = http.StatusBadRequest
		return img
	}

	resp, err := ch.httpClient.Do(req)
	if err != nil {
		img.Error = http.StatusBadGateway
		return img
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		img.Error = resp.StatusCode
		return img
	}

	img.MIMEType = resp.Header.Get("Content-Type")
	if img.MIMEType == "" {
		img.MIMEType = "image/jpeg"
	}
	return img
}

// compressUncached sends every uncached entry through the compressor,
// storing the shrunk bytes locally and rewriting the entry URL with the
// cache prefix. A rejected entry keeps its original URL with the upstream
// status recorded.
func (ch *Chooser) compressUncached(ctx context.Context, m *manifest.Manifest) {
	for i := range m.Images {
		if ctx.Err() != nil {
			return
		}

		img := &m.Images[i]
		if img.Cached {
			continue
		}

		result, err := ch.compressor.Shrink(ctx, img.URL)
		if err != nil {
			var apiErr *tinify.APIError
			if errors.As(err, &apiErr) {
				img.Error = apiErr.Status
				img.LastCached = result.Date
				ch.logger.Debug("compression rejected",
					zap.String("url", img.URL),
					zap.Int("status", apiErr.Status),
				)
			} else {
				ch.logger.Warn("compression request failed", zap.String("url", img.URL), zap.Error(err))
			}
			continue
		}

		data, err := ch.compressor.Download(ctx, result.URL)
		if err != nil {
			ch.logger.Warn("compressed image download failed", zap.String("url", result.URL), zap.Error(err))
			continue
		}

		key, err := ch.cache.Put(baseName(result.URL), result.MIMEType, data)
		if err != nil {
			ch.logger.Warn("cache write failed", zap.String("url", result.URL), zap.Error(err))
			continue
		}

		img.OriginalURL = img.URL
		img.URL = ch.cachePrefix + cacheURLSegment + key
		img.MIMEType = result.MIMEType
		img.LastCached = result.Date
		img.Cached = true
		img.Error = 0
	}
}

// baseName extracts the final path segment of a URL.
func baseName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return path.Base(rawURL)
	}
	return path.Base(u.Path)
}

// mimeTypeForKey guesses the content type of a cached file from its
// extension.
func mimeTypeForKey(key string) string {
	switch path.Ext(key) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
