package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnavailable is returned by a Store whose database cannot be opened.
var ErrUnavailable = errors.New("record store unavailable")

// Store is a record store opened on first use. A failed open is retried by
// the next call, so a backend that comes up after the process started is
// picked up without a restart.
type Store struct {
	dir, name, path string

	mu     sync.Mutex
	db     *DB
	closed bool
	onOpen []func(*DB)
}

// NewStore checks the name but does not touch the filesystem.
func NewStore(dir, name string) (*Store, error) {
	path, err := DatabasePath(dir, name)
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, name: name, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Open opens the database now instead of on the first call.
func (s *Store) Open() error {
	_, err := s.get()
	return err
}

func (s *Store) get() (*DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: closed", ErrUnavailable)
	}
	if s.db != nil {
		return s.db, nil
	}
	db, err := NewDB(s.dir, s.name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.db = db
	for _, fn := range s.onOpen {
		fn(db)
	}
	return db, nil
}

// whenOpen runs fn with the database once it is open, immediately if it
// already is.
func (s *Store) whenOpen(fn func(*DB)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		fn(s.db)
		return
	}
	s.onOpen = append(s.onOpen, fn)
}

func (s *Store) Append(ctx context.Context, r *Record) (id, rev string, err error) {
	db, err := s.get()
	if err != nil {
		return "", "", err
	}
	return db.Append(ctx, r)
}

func (s *Store) QuerySince(ctx context.Context, cutoff float64) ([]Record, error) {
	db, err := s.get()
	if err != nil {
		return nil, err
	}
	return db.QuerySince(ctx, cutoff)
}

func (s *Store) Latest(ctx context.Context) (Record, error) {
	db, err := s.get()
	if err != nil {
		return Record{}, err
	}
	return db.Latest(ctx)
}

func (s *Store) Count(ctx context.Context) (int, error) {
	db, err := s.get()
	if err != nil {
		return 0, err
	}
	return db.Count(ctx)
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	db, err := s.get()
	if err != nil {
		return Stats{Path: s.path}, err
	}
	return db.Stats(ctx)
}

// Close closes the database if it was opened. Later calls fail with
// ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
