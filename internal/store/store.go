package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warroomhq/warroom/internal/infrastructure/logging"
)

// ErrLockTimeout is returned when an operation waited the full bounded
// time for its key queue without acquiring a slot.
var ErrLockTimeout = errors.New("store: timed out waiting for key queue")

// Skip is the mutator return value meaning "do not write the document back".
// Any other return value is propagated to the caller alongside a write.
var Skip = &struct{ skip bool }{skip: true}

// DefaultLockTimeout bounds the wait for a key queue slot.
const DefaultLockTimeout = 30 * time.Second

// Observer receives store queue telemetry. Satisfied by monitoring.Metrics.
type Observer interface {
	RecordStoreWait(time.Duration)
	IncStoreTimeout()
}

// Store serializes read-modify-write access to JSON documents keyed by
// relative path. For one key, writes are totally ordered and never
// interleaved; different keys proceed independently.
type Store struct {
	root    string
	timeout time.Duration
	logger  *logging.Logger
	obs     Observer

	mu     sync.Mutex
	queues map[string]*keyQueue
}

// keyQueue is a FIFO mutex for one key. Goroutines blocked sending on a
// full single-slot channel are woken in arrival order, which is what
// gives the queue its FIFO guarantee.
type keyQueue struct {
	slot chan struct{}
	refs int
}

// Option configures a Store.
type Option func(*Store)

// WithTimeout overrides the bounded queue wait.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// WithObserver attaches queue telemetry.
func WithObserver(obs Observer) Option {
	return func(s *Store) { s.obs = obs }
}

// New creates a store rooted at dir.
func New(dir string, logger *logging.Logger, opts ...Option) *Store {
	s := &Store{
		root:    dir,
		timeout: DefaultLockTimeout,
		logger:  logger,
		queues:  make(map[string]*keyQueue),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithExclusive runs fn only after every prior operation queued under the
// same key has completed. Fails with ErrLockTimeout rather than deadlocking.
func (s *Store) WithExclusive(ctx context.Context, key string, fn func() error) error {
	q := s.enqueue(key)

	start := time.Now()
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case q.slot <- struct{}{}:
	case <-timer.C:
		s.dequeue(key)
		if s.obs != nil {
			s.obs.IncStoreTimeout()
		}
		return fmt.Errorf("%w: %s", ErrLockTimeout, key)
	case <-ctx.Done():
		s.dequeue(key)
		return ctx.Err()
	}

	if s.obs != nil {
		s.obs.RecordStoreWait(time.Since(start))
	}

	defer func() {
		<-q.slot
		s.dequeue(key)
	}()

	return fn()
}

func (s *Store) enqueue(key string) *keyQueue {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[key]
	if !ok {
		q = &keyQueue{slot: make(chan struct{}, 1)}
		s.queues[key] = q
	}
	q.refs++
	return q
}

func (s *Store) dequeue(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[key]
	if !ok {
		return
	}
	q.refs--
	if q.refs == 0 {
		delete(s.queues, key)
	}
}

// UpdateOptions tune a single Update call.
type UpdateOptions struct {
	// Mode is the file mode for the written document. Zero means 0644.
	// Sensitive documents (credentials) pass 0600.
	Mode os.FileMode
	// PreWrite runs before the document is written, with the absolute
	// target path. Directory creation beyond the default MkdirAll goes
	// here.
	PreWrite func(path string) error
	// PostWrite runs after a successful rename, with the absolute target
	// path. Cache invalidation goes here.
	PostWrite func(path string) error
}

// Update runs a read-modify-write cycle for one document under the key's
// exclusive queue. The document is decoded into a fresh T; if the file is
// absent or unparsable a deep copy of defaultValue is used instead;
// corruption is availability-degrading, never fatal. The mutator may
// modify doc in place and returns either store.Skip, meaning "do not
// write", or any other value to hand back to the caller.
func Update[T any](ctx context.Context, s *Store, key string, defaultValue T, mutator func(doc *T) (any, error)) (any, error) {
	return UpdateWith(ctx, s, key, defaultValue, mutator, UpdateOptions{})
}

// UpdateWith is Update with explicit per-call options.
func UpdateWith[T any](ctx context.Context, s *Store, key string, defaultValue T, mutator func(doc *T) (any, error), opts UpdateOptions) (any, error) {
	var result any

	err := s.WithExclusive(ctx, key, func() error {
		path := filepath.Join(s.root, filepath.FromSlash(key))

		doc, err := loadOrDefault(path, defaultValue)
		if err != nil {
			return err
		}

		out, err := mutator(&doc)
		if err != nil {
			return err
		}
		if out == any(Skip) {
			result = nil
			return nil
		}
		result = out

		return s.write(path, doc, opts)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Load reads one document without queuing a write. Absent or unparsable
// files yield a deep copy of defaultValue.
func Load[T any](ctx context.Context, s *Store, key string, defaultValue T) (T, error) {
	var doc T
	err := s.WithExclusive(ctx, key, func() error {
		path := filepath.Join(s.root, filepath.FromSlash(key))
		var loadErr error
		doc, loadErr = loadOrDefault(path, defaultValue)
		return loadErr
	})
	return doc, err
}

// Remove deletes one document under the same per-key serialization as
// writes. A key with no document on disk is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	return s.WithExclusive(ctx, key, func() error {
		path := filepath.Join(s.root, filepath.FromSlash(key))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		return nil
	})
}

func loadOrDefault[T any](path string, defaultValue T) (T, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		var doc T
		if jsonErr := json.Unmarshal(raw, &doc); jsonErr == nil {
			return doc, nil
		}
		// Unparsable document: treated as absent.
	} else if !os.IsNotExist(err) {
		var zero T
		return zero, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return deepCopy(defaultValue)
}

// deepCopy clones via a JSON round trip so callers can hand in shared
// default values without aliasing.
func deepCopy[T any](v T) (T, error) {
	var out T
	raw, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("failed to copy default value: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to copy default value: %w", err)
	}
	return out, nil
}

// write persists the document via temp file + rename so a crash mid-write
// leaves the previous version intact.
func (s *Store) write(path string, doc any, opts UpdateOptions) error {
	mode := opts.Mode
	if mode == 0 {
		mode = 0o644
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create document directory: %w", err)
	}
	if opts.PreWrite != nil {
		if err := opts.PreWrite(path); err != nil {
			return fmt.Errorf("pre-write hook failed: %w", err)
		}
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set document mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace document: %w", err)
	}

	if opts.PostWrite != nil {
		if err := opts.PostWrite(path); err != nil {
			s.logger.Warn("post-write hook failed",
				zap.String("path", path), zap.Error(err))
		}
	}
	return nil
}
