package manifest

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Image describes one background candidate and its caching state.
type Image struct {
	URL         string `json:"url"`
	OriginalURL string `json:"original_url,omitempty"`
	MIMEType    string `json:"mime_type,omitempty"`
	Cached      bool   `json:"cached,omitempty"`
	LastCached  string `json:"last_cached,omitempty"`
	Error       int    `json:"error,omitempty"`
}

// Valid reports whether the image is usable, i.e. no upstream error has been
// recorded against it.
func (img Image) Valid() bool {
	return img.Error == 0
}

// Manifest tracks the known images together with the hash of the URL list
// they were derived from.
type Manifest struct {
	ID     string  `json:"id,omitempty"`
	Hash   string  `json:"hash,omitempty"`
	Images []Image `json:"img"`
}

// ValidImages returns the subset of images with no recorded error.
func (m *Manifest) ValidImages() []Image {
	out := make([]Image, 0, len(m.Images))
	for _, img := range m.Images {
		if img.Valid() {
			out = append(out, img)
		}
	}
	return out
}

// Store persists a Manifest between invocations.
type Store interface {
	Load() (Manifest, error)
	Save(m *Manifest) error
}

// FileStore keeps the manifest as a JSON document on disk and guards access
// with a mutex.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by the file at path. The file need not
// exist yet.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the manifest from disk. A missing file yields an empty manifest
// and no error.
func (s *FileStore) Load() (Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{}, nil
		}
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

// Save stamps the manifest with a digest of its contents and writes it to
// disk.
func (s *FileStore) Save(m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := digest(m)
	if err != nil {
		return err
	}
	m.ID = id

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// digest computes the SHA-1 of the manifest body with the ID field cleared,
// so that re-saving an unchanged manifest yields the same ID.
func digest(m *Manifest) (string, error) {
	clone := *m
	clone.ID = ""

	data, err := json.Marshal(&clone)
	if err != nil {
		return "", fmt.Errorf("encode manifest for digest: %w", err)
	}
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

// FileSHA1 returns the hex SHA-1 digest of the file at path. It is used to
// detect changes to the URL list between invocations.
func FileSHA1(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
