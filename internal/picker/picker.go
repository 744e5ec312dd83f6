package picker

import (
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"
)

// Picker draws uniformly from candidate lists using an explicit random
// source, seedable for deterministic selection in tests. It is safe for
// concurrent use; rand.Rand itself is not.
type Picker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Picker. A zero seed selects a time-based seed; any other
// value makes the draw sequence reproducible.
func New(seed int64) *Picker {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Picker{rng: rand.New(rand.NewSource(seed))}
}

// Pick returns one element of urls chosen uniformly at random.
func (p *Picker) Pick(urls []string) (string, error) {
	i, err := p.Index(len(urls))
	if err != nil {
		return "", err
	}
	return urls[i], nil
}

// Index returns a uniform random index in [0, n).
func (p *Picker) Index(n int) (int, error) {
	if n <= 0 {
		return 0, ErrEmptyList
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Intn(n), nil
}

// Load reads a newline-delimited URL list, trimming whitespace and
// discarding blank lines. Order is preserved.
func Load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	urls := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		urls = append(urls, line)
	}
	return urls, nil
}

// Save rewrites the URL list file, one URL per line.
func Save(path string, urls []string) error {
	var b strings.Builder
	for _, url := range urls {
		b.WriteString(url)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write url list: %w", err)
	}
	return nil
}
