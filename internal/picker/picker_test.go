package picker

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestPickReturnsMember(t *testing.T) {
	urls := []string{"a.jpg", "b.jpg", "c.jpg"}
	p := New(1)

	for i := 0; i < 50; i++ {
		got, err := p.Pick(urls)
		if err != nil {
			t.Fatalf("Pick returned error: %v", err)
		}
		found := false
		for _, url := range urls {
			if url == got {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("picked %q, not a member of the list", got)
		}
	}
}

func TestPickEmptyList(t *testing.T) {
	p := New(1)

	if _, err := p.Pick(nil); !errors.Is(err, ErrEmptyList) {
		t.Fatalf("expected ErrEmptyList, got %v", err)
	}
	if _, err := p.Pick([]string{}); !errors.Is(err, ErrEmptyList) {
		t.Fatalf("expected ErrEmptyList, got %v", err)
	}
}

func TestPickDeterministicUnderFixedSeed(t *testing.T) {
	urls := []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg"}

	first := New(99)
	second := New(99)

	for i := 0; i < 20; i++ {
		a, err := first.Pick(urls)
		if err != nil {
			t.Fatalf("Pick returned error: %v", err)
		}
		b, err := second.Pick(urls)
		if err != nil {
			t.Fatalf("Pick returned error: %v", err)
		}
		if a != b {
			t.Fatalf("draw %d diverged: %q vs %q", i, a, b)
		}
	}
}

func TestIndexConcurrentDraws(t *testing.T) {
	p := New(7)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				got, err := p.Index(3)
				if err != nil {
					t.Errorf("Index returned error: %v", err)
					return
				}
				if got < 0 || got > 2 {
					t.Errorf("Index returned %d, want [0,3)", got)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestLoadSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	content := "https://example.com/a.jpg\n\n  \nhttps://example.com/b.jpg\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write url list: %v", err)
	}

	urls, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	want := []string{"https://example.com/a.jpg", "https://example.com/b.jpg"}
	if len(urls) != len(want) {
		t.Fatalf("expected %d urls, got %v", len(want), urls)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Fatalf("expected %q at position %d, got %q", want[i], i, urls[i])
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Fatalf("expected error for missing url list")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	want := []string{"https://example.com/a.jpg", "https://example.com/b.jpg"}

	if err := Save(path, want); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d urls, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %q at position %d, got %q", want[i], i, got[i])
		}
	}
}
