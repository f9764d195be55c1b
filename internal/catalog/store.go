package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"chekitimer/internal/config"
	logx "chekitimer/pkg/logx"
)

//go:embed builtin.yaml
var builtinYAML []byte

const builtinSource = "builtin"

// Builtin returns the embedded catalog.
func Builtin() *Catalog {
	ts, _, err := ParseYAML("builtin.yaml", builtinYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded catalog is invalid: %v", err))
	}
	return New(builtinSource, ts)
}

// Load reads a catalog file. ".csv" is parsed as a spreadsheet export;
// everything else as YAML/JSON.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var (
		ts      []Template
		skipped int
	)
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		ts, skipped, err = ParseCSV(bytes.NewReader(b))
	} else {
		ts, skipped, err = ParseYAML(path, b)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	if len(ts) == 0 {
		return nil, fmt.Errorf("catalog %s: no usable templates (%d rows skipped)", path, skipped)
	}
	return New(path, ts), nil
}

// Store holds the current catalog and swaps it on reload. Readers always see
// a complete catalog.
type Store struct {
	mu   sync.RWMutex
	cur  *Catalog
	path string
	log  logx.Logger

	onChange func(*Catalog)
}

// NewStore loads path, falling back to the built-in catalog when path is
// empty or unreadable.
func NewStore(path string, log logx.Logger) *Store {
	s := &Store{path: strings.TrimSpace(path), log: log}
	if err := s.Reload(); err != nil {
		log.Warn("catalog load failed; using builtin", logx.String("path", s.path), logx.Err(err))
		s.set(Builtin())
	}
	return s
}

// OnChange registers a hook called after every successful reload.
func (s *Store) OnChange(fn func(*Catalog)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Store) Current() *Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *Store) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// SetPath points the store at a new file and reloads it.
func (s *Store) SetPath(path string) error {
	s.mu.Lock()
	s.path = strings.TrimSpace(path)
	s.mu.Unlock()
	return s.Reload()
}

// Reload re-reads the file. On error the current catalog is kept.
func (s *Store) Reload() error {
	path := s.Path()
	if path == "" {
		s.set(Builtin())
		return nil
	}
	c, err := Load(path)
	if err != nil {
		return err
	}
	s.set(c)
	s.log.Info("catalog loaded", logx.String("source", c.Source()), logx.Int("templates", c.Len()), logx.Int("groups", len(c.Groups())))
	return nil
}

func (s *Store) set(c *Catalog) {
	s.mu.Lock()
	s.cur = c
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// Watch reloads the catalog whenever its file changes, until ctx is done.
// With no path configured it returns immediately.
func (s *Store) Watch(ctx context.Context) error {
	path := s.Path()
	if path == "" {
		return nil
	}
	return config.WatchFile(ctx, path, s.log, func() {
		if err := s.Reload(); err != nil {
			s.log.Warn("catalog reload failed; keeping previous", logx.String("path", path), logx.Err(err))
		}
	})
}
