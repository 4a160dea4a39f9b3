// Package textfile stores high scores as append-only text lines of the form
// "timestamp,player,duration_seconds".
package textfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/trace-the-wumpus/internal/services/wumpus/storage"
)

// Store appends score lines to a single file.
type Store struct {
	path string
	mu   sync.Mutex
}

var _ storage.ScoreStore = (*Store)(nil)

// Open prepares a store at path, creating its directory. The file itself is
// created on the first append.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("score path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create score dir: %w", err)
		}
	}
	return &Store{path: cleanPath}, nil
}

// Path returns the score file location.
func (s *Store) Path() string { return s.path }

// AppendScore writes one line and syncs it to disk.
func (s *Store) AppendScore(ctx context.Context, record storage.ScoreRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(record.Player, ",\n") {
		return fmt.Errorf("player id %q cannot be stored", record.Player)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open score file: %w", err)
	}
	line := fmt.Sprintf("%d,%s,%.3f\n", record.Time.Unix(), record.Player, record.Duration.Seconds())
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write score: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync score file: %w", err)
	}
	return f.Close()
}

// ListScores reads the whole file. A missing file holds no scores; any line
// that does not parse fails the read with storage.ErrCorrupt.
func (s *Store) ListScores(ctx context.Context) ([]storage.ScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open score file: %w", err)
	}
	defer f.Close()

	var records []storage.ScoreRecord
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		record, err := parseLine(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", storage.ErrCorrupt, s.path, lineNo, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read score file: %w", err)
	}
	return records, nil
}

func parseLine(text string) (storage.ScoreRecord, error) {
	fields := strings.Split(text, ",")
	if len(fields) != 3 {
		return storage.ScoreRecord{}, fmt.Errorf("want 3 fields, got %d", len(fields))
	}
	ts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return storage.ScoreRecord{}, fmt.Errorf("timestamp: %w", err)
	}
	player := strings.TrimSpace(fields[1])
	if player == "" {
		return storage.ScoreRecord{}, errors.New("empty player")
	}
	seconds, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return storage.ScoreRecord{}, fmt.Errorf("duration: %w", err)
	}
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return storage.ScoreRecord{}, fmt.Errorf("duration out of range: %v", seconds)
	}
	whole, frac := math.Modf(ts)
	return storage.ScoreRecord{
		Time:     time.Unix(int64(whole), int64(frac*1e9)).UTC(),
		Player:   player,
		Duration: time.Duration(math.Round(seconds * 1000)) * time.Millisecond,
	}, nil
}
