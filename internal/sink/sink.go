// Package sink persists extracted pages as they are produced, so a run that is
// interrupted or cancelled keeps everything extracted before the interruption.
//
// A sink file holds one JSON object per line: {"page":2,"text":"..."}.
package sink

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"envreport/internal/logger"
)

// Failure policies, matching config.SinkPolicy*.
const (
	PolicyAbort  = "abort"
	PolicyMemory = "memory"
)

// TimestampLayout is the run timestamp embedded in sink file names.
const TimestampLayout = "20060102_150405"

// ErrSinkUnwritable is returned by Append under the abort policy when a page
// cannot be written to disk.
var ErrSinkUnwritable = errors.New("output sink is not writable")

// Entry is one persisted page.
type Entry struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

// Sink is an append-only page store backed by a file.
type Sink struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	policy   string
	entries  []Entry
	degraded bool
	log      zerolog.Logger
}

// FileName returns "<base>_<YYYYMMDD_HHMMSS>.txt".
func FileName(base string, startedAt time.Time) string {
	return fmt.Sprintf("%s_%s.txt", base, startedAt.Format(TimestampLayout))
}

// Open creates dir if needed and creates the sink file for a run started at
// startedAt. base is usually the input file name without extension.
func Open(dir, base string, startedAt time.Time, policy string) (*Sink, error) {
	const op = "sink.Open"

	if policy == "" {
		policy = PolicyAbort
	}
	if policy != PolicyAbort && policy != PolicyMemory {
		return nil, fmt.Errorf("%s: unknown policy %q", op, policy)
	}
	base = sanitize(base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrSinkUnwritable, err)
	}

	path := filepath.Join(dir, FileName(base, startedAt))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		// Two runs of the same document in the same second.
		for n := 2; errors.Is(err, os.ErrExist) && n < 100; n++ {
			path = filepath.Join(dir, fmt.Sprintf("%s_%s_%d.txt", base, startedAt.Format(TimestampLayout), n))
			file, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrSinkUnwritable, err)
	}

	return &Sink{
		path:   path,
		file:   file,
		policy: policy,
		log:    logger.WithComponent("sink").With().Str("path", path).Logger(),
	}, nil
}

// Path returns the sink file path.
func (s *Sink) Path() string { return s.path }

// Degraded reports whether the sink has stopped writing to disk.
func (s *Sink) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Append persists one page and flushes it to stable storage before returning.
// The entry is always kept in memory. On a write failure the abort policy
// returns ErrSinkUnwritable; the memory policy logs once and continues
// without the file.
func (s *Sink) Append(page int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, Entry{Page: page, Text: text})

	if s.degraded || s.file == nil {
		return nil
	}

	line, err := json.Marshal(Entry{Page: page, Text: text})
	if err != nil {
		return fmt.Errorf("sink: encode page %d: %w", page, err)
	}
	line = append(line, '\n')

	if _, err = s.file.Write(line); err == nil {
		err = s.file.Sync()
	}
	if err == nil {
		return nil
	}

	if s.policy == PolicyAbort {
		return fmt.Errorf("sink: page %d: %w: %v", page, ErrSinkUnwritable, err)
	}

	s.degraded = true
	s.log.Error().Err(err).Int("page", page).Msg("Output file is no longer writable, keeping pages in memory only")
	_ = s.file.Close()
	s.file = nil
	return nil
}

// Entries returns a copy of every appended page, in append order.
func (s *Sink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// Len returns the number of appended pages.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Text assembles the appended pages for analysis.
func (s *Sink) Text() string {
	return JoinEntries(s.Entries())
}

// Close closes the file. Entries stay readable.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// JoinEntries renders entries as "=== Page N ===" blocks, skipping empty pages.
func JoinEntries(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "=== Page %d ===\n%s", e.Page+1, strings.TrimSpace(e.Text))
	}
	return b.String()
}

// ReadEntries reads a sink file back. A truncated last line, left by a crash
// in the middle of a write, is ignored.
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sink: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	var pending error
	for scanner.Scan() {
		line++
		if pending != nil {
			return nil, pending
		}
		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			pending = fmt.Errorf("sink: %s line %d: %w", path, line, err)
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("sink: read %s: %w", path, err)
	}
	return entries, nil
}

func sanitize(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return "document"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, base)
}
