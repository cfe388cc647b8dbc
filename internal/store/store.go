// Package store persists and restores the engine's SystemState document:
// a single logical key, atomic write-through, UTC timestamps, and a
// fresh-state fallback on load failure. It also exposes a narrower
// get/set/ping KV contract so the persistence backend can be swapped
// without touching callers.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const stateKey = "system_state"

// TTL is the state freshness window. It is advisory: a file older than
// TTL is still loaded, just logged at WARN.
const TTL = 24 * time.Hour

// KV is the minimal persistence contract the state store is built on:
// single key, atomic set with TTL, get, ping. Swappable for a
// database-backed implementation without touching the rest of the engine.
type KV interface {
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, bool, time.Time, error)
	Ping() error
}

// FileKV is the default KV adapter: one JSON file per key, atomic
// write-then-rename via os.WriteFile/json.MarshalIndent.
type FileKV struct {
	mu  sync.Mutex
	dir string
}

// NewFileKV creates a FileKV rooted at dir, creating it if necessary.
func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileKV{dir: dir}, nil
}

type envelope struct {
	WrittenAt time.Time       `json:"written_at"`
	TTL       time.Duration   `json:"ttl_ns"`
	Payload   json.RawMessage `json:"payload"`
}

func (f *FileKV) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

// Set atomically writes value under key: marshal to a temp file in the
// same directory, then rename over the target so a crash mid-write never
// leaves a truncated document behind.
func (f *FileKV) Set(key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	env := envelope{WrittenAt: time.Now().UTC(), TTL: ttl, Payload: value}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	target := f.path(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Get returns the stored value, whether it existed, and when it was
// written. A missing key is not an error: ok is simply false.
func (f *FileKV) Get(key string) ([]byte, bool, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, time.Time{}, nil
		}
		return nil, false, time.Time{}, fmt.Errorf("read state file: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, time.Time{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env.Payload, true, env.WrittenAt, nil
}

// Ping reports whether the backing directory is reachable.
func (f *FileKV) Ping() error {
	_, err := os.Stat(f.dir)
	return err
}

// Store is the SystemState-specific persistence wrapper over a KV.
type Store struct {
	kv     KV
	logger *zap.Logger
}

// New creates a Store over the given KV backend.
func New(kv KV, logger *zap.Logger) *Store {
	return &Store{kv: kv, logger: logger}
}

// Save atomically persists the full SystemState. Callers invoke this
// after every trade fill, position close, status transition, or
// adaptive-parameter change.
func (s *Store) Save(state *types.SystemState) error {
	state.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal system state: %w", err)
	}
	return s.kv.Set(stateKey, data, TTL)
}

// Load restores SystemState. On any failure — missing key, corrupt
// document, backend error — it logs at WARN and returns a fresh state
// seeded with startingEquity, rather than propagating the error to the
// caller.
func (s *Store) Load(startingEquity decimal.Decimal) *types.SystemState {
	data, ok, writtenAt, err := s.kv.Get(stateKey)
	if err != nil {
		s.logger.Warn("state load failed, starting fresh", zap.Error(err))
		return types.NewSystemState(startingEquity)
	}
	if !ok {
		s.logger.Warn("no persisted state found, starting fresh")
		return types.NewSystemState(startingEquity)
	}

	var state types.SystemState
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("persisted state corrupt, starting fresh", zap.Error(err))
		return types.NewSystemState(startingEquity)
	}

	if time.Since(writtenAt) > TTL {
		s.logger.Warn("persisted state older than TTL, using anyway",
			zap.Duration("age", time.Since(writtenAt)), zap.Duration("ttl", TTL))
	}

	return &state
}
