package cache

import (
	"fmt"
	"mime"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/peterbourgon/diskv"
)

// knownExtensions pins extensions for the image types we actually see, since
// mime.ExtensionsByType ordering is not stable across platforms.
var knownExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// Cache stores compressed image bytes on disk, keyed by filename.
type Cache struct {
	d   *diskv.Diskv
	dir string
}

// New opens (or creates) a cache rooted at dir.
func New(dir string) *Cache {
	d := diskv.New(diskv.Options{
		BasePath: dir,
		Transform: func(s string) []string {
			return nil
		},
		// 8MB held in memory strictly.
		CacheSizeMax: uint64(8 * datasize.MB),
	})
	return &Cache{d: d, dir: dir}
}

// Dir returns the cache root on disk.
func (c *Cache) Dir() string {
	return c.dir
}

// Put writes data under name, appending an extension guessed from mimeType
// when name carries none. It returns the final key.
func (c *Cache) Put(name, mimeType string, data []byte) (string, error) {
	key := name
	if !strings.Contains(key, ".") {
		key += extensionFor(mimeType)
	}
	if err := c.d.Write(key, data); err != nil {
		return "", fmt.Errorf("cache write %s: %w", key, err)
	}
	return key, nil
}

// Get returns the bytes stored under key.
func (c *Cache) Get(key string) ([]byte, error) {
	data, err := c.d.Read(key)
	if err != nil {
		return nil, fmt.Errorf("cache read %s: %w", key, err)
	}
	return data, nil
}

// Has reports whether key is present.
func (c *Cache) Has(key string) bool {
	return c.d.Has(key)
}

// Keys lists every stored key.
func (c *Cache) Keys() []string {
	var keys []string
	for key := range c.d.Keys(nil) {
		keys = append(keys, key)
	}
	return keys
}

// extensionFor maps a MIME type to a file extension, falling back to the
// platform MIME database for anything unrecognized.
func extensionFor(mimeType string) string {
	if ext, ok := knownExtensions[mimeType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
