package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"chekitimer/internal/engine"
	logx "chekitimer/pkg/logx"
)

// fileStore keeps records as JSON lines. Appends go to the end of the file;
// Delete and Reset rewrite it through a temp file and rename. A rewritten
// file starts with a {"next_seq":N} line so sequence numbers survive resets.
type fileStore struct {
	log  logx.Logger
	path string

	mu   sync.Mutex
	f    *os.File
	recs []Record
	next int64
}

type fileLine struct {
	Record
	NextSeq int64 `json:"next_seq,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("ledger.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{log: log, path: path, next: 1}
	if err := s.load(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	log.Debug("ledger file opened", logx.String("path", path), logx.Int("records", len(s.recs)))
	return s, nil
}

func (s *fileStore) load() error {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var fl fileLine
		if err := json.Unmarshal([]byte(line), &fl); err != nil {
			// A torn final write is expected after a crash.
			s.log.Warn("ledger file: skipping bad line", logx.Int("line", lineNo), logx.Err(err))
			continue
		}
		if fl.Seq == 0 {
			if fl.NextSeq > s.next {
				s.next = fl.NextSeq
			}
			continue
		}
		s.recs = append(s.recs, fl.Record)
		if fl.Seq >= s.next {
			s.next = fl.Seq + 1
		}
	}
	return sc.Err()
}

func (s *fileStore) Append(_ context.Context, rec engine.SessionRecord) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return Record{}, ErrClosed
	}
	r := Record{Seq: s.next, SessionRecord: rec}
	b, err := json.Marshal(r)
	if err != nil {
		return Record{}, err
	}
	if _, err := s.f.Write(append(b, '\n')); err != nil {
		return Record{}, err
	}
	s.next++
	s.recs = append(s.recs, r)
	return r, nil
}

func (s *fileStore) List(context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	return append([]Record(nil), s.recs...), nil
}

func (s *fileStore) Delete(_ context.Context, seq int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return false, ErrClosed
	}
	idx := -1
	for i, r := range s.recs {
		if r.Seq == seq {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	kept := make([]Record, 0, len(s.recs)-1)
	kept = append(kept, s.recs[:idx]...)
	kept = append(kept, s.recs[idx+1:]...)
	if err := s.rewriteLocked(kept); err != nil {
		return false, err
	}
	s.recs = kept
	return true, nil
}

func (s *fileStore) Reset(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, ErrClosed
	}
	n := len(s.recs)
	if err := s.rewriteLocked(nil); err != nil {
		return 0, err
	}
	s.recs = nil
	return n, nil
}

func (s *fileStore) rewriteLocked(recs []Record) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	werr := enc.Encode(fileLine{NextSeq: s.next})
	for _, r := range recs {
		if werr != nil {
			break
		}
		werr = enc.Encode(r)
	}
	if werr == nil {
		werr = w.Flush()
	}
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rewrite ledger: %w", werr)
	}

	_ = s.f.Close()
	s.f = nil
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		s.reopenLocked()
		return err
	}
	s.reopenLocked()
	if s.f == nil {
		return errors.New("ledger file reopen failed")
	}
	return nil
}

func (s *fileStore) reopenLocked() {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.log.Error("ledger file reopen failed", logx.String("path", s.path), logx.Err(err))
		return
	}
	s.f = f
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
