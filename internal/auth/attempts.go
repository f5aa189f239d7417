package auth

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
)

const (
	// MaxAttemptsPerWindow login attempts from one address within AttemptWindow,
	// everything above is rejected
	MaxAttemptsPerWindow = 12
	AttemptWindow        = 15 * time.Minute
)

// AttemptStore counts login attempts per client address within a fixed window.
// Increment returns the attempt count after recording the new attempt.
type AttemptStore interface {
	Increment(ctx context.Context, clientAddr string) (int, error)
}

type attemptRecord struct {
	Count   int   `json:"count"`
	ResetAt int64 `json:"resetAt"`
}

// MemoryAttemptStore keeps attempt records in a plain map. Expired windows are
// removed by a periodic sweep, so the map does not grow without bound under
// sustained attempts from many distinct addresses.
type MemoryAttemptStore struct {
	mutex   sync.Mutex
	window  time.Duration
	records map[string]*attemptRecord
	// ability to inject the clock (for unit testing)
	NowFunc func() time.Time
}

func NewMemoryAttemptStore(window time.Duration) *MemoryAttemptStore {
	return &MemoryAttemptStore{
		window:  window,
		records: make(map[string]*attemptRecord),
		NowFunc: time.Now,
	}
}

func (s *MemoryAttemptStore) Increment(_ context.Context, clientAddr string) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.NowFunc().Unix()
	rec, ok := s.records[clientAddr]
	if !ok || rec.ResetAt <= now {
		s.records[clientAddr] = &attemptRecord{
			Count:   1,
			ResetAt: now + int64(s.window.Seconds()),
		}
		return 1, nil
	}

	rec.Count++
	return rec.Count, nil
}

// ScanAndClean will run through all attempt records and drop the expired ones
func (s *MemoryAttemptStore) ScanAndClean() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(s.records) == 0 {
		return
	}

	now := s.NowFunc().Unix()
	var toRemove []string
	for addr, rec := range s.records {
		if rec.ResetAt <= now {
			toRemove = append(toRemove, addr)
		}
	}

	for _, addr := range toRemove {
		delete(s.records, addr)
	}

	if len(toRemove) > 0 {
		log.Debugf("login attempt store: cleaned %d expired records", len(toRemove))
	}
}

// StartSweeping cleans expired records on every interval tick, until ctx is done
func (s *MemoryAttemptStore) StartSweeping(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ScanAndClean()
			}
		}
	}()
}

// CacheAttemptStore keeps attempt records in a bounded in-process cache.
// Entries expire with the window and the cache itself is capped in size, so
// memory stays bounded even when attempts come from very many addresses.
type CacheAttemptStore struct {
	mutex  sync.Mutex
	window time.Duration
	cache  *freecache.Cache
	// ability to inject the clock (for unit testing)
	NowFunc func() time.Time
}

func NewCacheAttemptStore(window time.Duration) *CacheAttemptStore {
	megabyte := 1024 * 1024
	return &CacheAttemptStore{
		window:  window,
		cache:   freecache.NewCache(10 * megabyte),
		NowFunc: time.Now,
	}
}

func (s *CacheAttemptStore) Increment(_ context.Context, clientAddr string) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.NowFunc().Unix()
	key := []byte(clientAddr)

	rec := attemptRecord{Count: 1, ResetAt: now + int64(s.window.Seconds())}
	if raw, err := s.cache.Get(key); err == nil {
		var stored attemptRecord
		if err := json.Unmarshal(raw, &stored); err == nil && stored.ResetAt > now {
			rec = stored
			rec.Count++
		}
	} else if !errors.Is(err, freecache.ErrNotFound) {
		return 0, err
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}

	ttl := int(rec.ResetAt - now)
	if ttl <= 0 {
		ttl = 1
	}
	if err := s.cache.Set(key, raw, ttl); err != nil {
		return 0, err
	}

	return rec.Count, nil
}
