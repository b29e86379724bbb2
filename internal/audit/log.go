// Package audit keeps the login attempt log: one delimited line per
// attempt in the form timestamp|username|origin|outcome|reason.
package audit

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/atinyakov/CareKeeper/internal/models"
)

const separator = "|"

// Log appends login attempts to a file and reads them back.
type Log struct {
	path string
	mu   sync.Mutex
}

// New returns a Log writing to path. The file and its directory are
// created on first append.
func New(path string) *Log {
	return &Log{path: path}
}

// Append writes one entry. Callers treat failures as best-effort.
func (l *Log) Append(a models.LoginAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create audit dir: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatLine(a) + "\n"); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first. A missing file yields no
// entries. Lines that do not parse are skipped.
func (l *Log) Recent(n int) ([]models.LoginAttempt, error) {
	if n <= 0 {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	ring := make([]models.LoginAttempt, 0, n)
	start := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		a, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		if len(ring) < n {
			ring = append(ring, a)
			continue
		}
		ring[start] = a
		start = (start + 1) % n
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	out := make([]models.LoginAttempt, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[(start+i)%len(ring)])
	}
	return out, nil
}

func formatLine(a models.LoginAttempt) string {
	return strings.Join([]string{
		a.Timestamp.UTC().Format(time.RFC3339),
		clean(a.Username),
		clean(a.Origin),
		string(a.Outcome),
		clean(a.Reason),
	}, separator)
}

func parseLine(line string) (models.LoginAttempt, bool) {
	parts := strings.SplitN(line, separator, 5)
	if len(parts) != 5 {
		return models.LoginAttempt{}, false
	}
	ts, err := time.Parse(time.RFC3339, parts[0])
	if err != nil {
		return models.LoginAttempt{}, false
	}
	return models.LoginAttempt{
		Timestamp: ts,
		Username:  parts[1],
		Origin:    parts[2],
		Outcome:   models.LoginOutcome(parts[3]),
		Reason:    parts[4],
	}, true
}

// clean keeps user-supplied values from breaking the line format.
var clean = strings.NewReplacer(separator, "/", "\n", " ", "\r", " ").Replace
