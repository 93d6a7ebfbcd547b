package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/exp/mmap"

	"klinevault/internal/logger"
	"klinevault/internal/market"
)

// Store owns one directory tree of day files plus the sqlite index beside
// them. All methods are safe for concurrent use; writes to different keys
// never block each other.
type Store struct {
	dir string
	idx *index

	integrityFaults atomic.Int64
}

func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache dir cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	idx, err := openIndex(dir)
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, idx: idx}, nil
}

func (s *Store) Close() error { return s.idx.close() }

// IntegrityFaults counts checksum or schema failures observed since start.
// Each fault also invalidated the offending entry.
func (s *Store) IntegrityFaults() int64 { return s.integrityFaults.Load() }

// Lookup returns the entry for key after verifying the referenced file still
// matches its recorded checksum. A mismatch invalidates the entry and reads
// as a miss, never as an error.
func (s *Store) Lookup(key Key) (Entry, bool) {
	entry, found, err := s.idx.get(key)
	if err != nil {
		logger.Errorf("[cache] index lookup %s failed: %v", key.ID(), err)
		return Entry{}, false
	}
	if !found {
		return Entry{}, false
	}
	sum, err := checksumFile(entry.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("[cache] cannot checksum %s: %v", entry.Path, err)
		}
		s.recordFault(key)
		return Entry{}, false
	}
	if sum != entry.Checksum {
		logger.Warnf("[cache] checksum mismatch for %s, invalidating", key.ID())
		s.recordFault(key)
		return Entry{}, false
	}
	return entry, true
}

func (s *Store) recordFault(key Key) {
	s.integrityFaults.Add(1)
	s.Invalidate(key)
}

// Read memory-maps the entry's file and decodes only the requested columns
// plus the open-time key. Pass no columns for the full schema. Returned
// candles are tagged as cache provenance, ascending by open time.
func (s *Store) Read(entry Entry, cols ...Column) ([]market.Candle, error) {
	r, err := mmap.Open(entry.Path)
	if err != nil {
		return nil, fmt.Errorf("mmap %s failed: %w", entry.Path, err)
	}
	defer r.Close()
	candles, err := decodeColumns(r, int64(r.Len()), cols)
	if err != nil {
		s.recordFault(entry.Key)
		return nil, fmt.Errorf("decode %s failed: %w", entry.Path, err)
	}
	for i := range candles {
		candles[i].Source = market.SourceCache
	}
	return candles, nil
}

// Write persists one complete calendar day. The caller is responsible for
// having fetched the full day; partial days are rejected. The file goes to a
// temp path first and is renamed into place, so a concurrent reader never
// sees a half-written file. Racing writers for the same immutable day are
// last-writer-wins.
func (s *Store) Write(key Key, iv market.Interval, candles []market.Candle) (Entry, error) {
	dayWindow := key.DayWindow(iv)
	if err := market.ValidateSeries(candles, dayWindow, iv); err != nil {
		return Entry{}, fmt.Errorf("refusing to cache invalid series for %s: %w", key.ID(), err)
	}
	if !market.IsCompleteDay(candles, dayWindow, iv) {
		return Entry{}, fmt.Errorf("refusing to cache partial day %s: %d rows, want %d",
			key.ID(), len(candles), market.ExpectedCount(dayWindow, iv))
	}

	path := filepath.Join(s.dir, key.RelPath())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Entry{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".kvtmp-*")
	if err != nil {
		return Entry{}, err
	}
	tmpPath := tmp.Name()
	hasher := sha256.New()
	if err := encodeFile(io.MultiWriter(tmp, hasher), candles); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return Entry{}, fmt.Errorf("encode %s failed: %w", key.ID(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return Entry{}, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return Entry{}, err
	}

	entry := Entry{
		Key:       key,
		Path:      path,
		Checksum:  hex.EncodeToString(hasher.Sum(nil)),
		RowCount:  int64(len(candles)),
		CoverFrom: candles[0].OpenTime,
		CoverTo:   candles[len(candles)-1].OpenTime,
		WrittenAt: time.Now().UTC(),
	}
	if err := s.idx.put(entry); err != nil {
		return Entry{}, fmt.Errorf("index update for %s failed: %w", key.ID(), err)
	}
	logger.Debugf("[cache] wrote %s (%d rows)", key.ID(), entry.RowCount)
	return entry, nil
}

// Invalidate removes both the file and its index row.
func (s *Store) Invalidate(key Key) {
	entry, found, err := s.idx.get(key)
	if err != nil {
		logger.Errorf("[cache] invalidate lookup %s failed: %v", key.ID(), err)
		return
	}
	if found && entry.Path != "" {
		if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
			logger.Warnf("[cache] remove %s failed: %v", entry.Path, err)
		}
	}
	if err := s.idx.remove(key); err != nil {
		logger.Errorf("[cache] index remove %s failed: %v", key.ID(), err)
	}
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
