// Package entries implements the entry store operations: get by id,
// substring search, add and batch add, each scoped to the caller's
// principal.
package entries

import (
	"context"
	"fmt"
	"time"

	"github.com/kuitang/entrystore/internal/auth"
	"github.com/kuitang/entrystore/internal/db"
	"github.com/kuitang/entrystore/internal/errs"
	"github.com/kuitang/entrystore/internal/obs"
)

// Clock abstracts time for testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Service handles entry operations on a store.
type Service struct {
	store *db.Store
	clock Clock
}

// NewService creates an entry service backed by store.
func NewService(store *db.Store) *Service {
	return &Service{store: store, clock: realClock{}}
}

// NewServiceWithClock creates an entry service with a custom clock.
func NewServiceWithClock(store *db.Store, clock Clock) *Service {
	return &Service{store: store, clock: clock}
}

// now is the creation timestamp at the precision the store keeps.
func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

// Ready reports whether the store answers. A failure is errs.Unavailable.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return errs.Wrap(errs.Unavailable, "storage unavailable", err)
	}
	return nil
}

// Get returns the entry with the given id if it belongs to p.
// A missing entry is an errs.NotFound error; an entry owned by someone else
// is StatusNotOwned.
func (s *Service) Get(ctx context.Context, p auth.Principal, id int64) (GetResult, error) {
	if !p.Authenticated() {
		return GetResult{Status: StatusUnauthenticated}, nil
	}

	var (
		entry *Entry
		found bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		var err error
		entry, found, err = newQueries(s.store, tx).getEntry(ctx, id)
		return err
	})
	if err != nil {
		return GetResult{}, err
	}
	if !found {
		return GetResult{}, errs.New(errs.NotFound, "entry not found")
	}
	if entry.UserID != p.UserID {
		obs.From(ctx).Debug("entries: get denied", "entry_id", id)
		return GetResult{Status: StatusNotOwned}, nil
	}
	return GetResult{Status: StatusFound, Entry: entry}, nil
}

// Search returns up to SearchLimit of p's entries containing the folded
// query, oldest first. An empty query matches every entry; a missing one
// is errs.InvalidArgument, for anonymous callers too.
func (s *Service) Search(ctx context.Context, p auth.Principal, req SearchRequest) (ListResult, error) {
	if err := req.Validate(); err != nil {
		return ListResult{}, err
	}
	if !p.Authenticated() {
		return ListResult{Status: StatusUnauthenticated}, nil
	}

	var out []Entry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		var err error
		out, err = newQueries(s.store, tx).searchEntries(ctx, p.UserID, Fold(*req.Query), SearchLimit)
		return err
	})
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Status: StatusFound, Entries: out}, nil
}

// Add stores one entry for p.
func (s *Service) Add(ctx context.Context, p auth.Principal, req EntryRequest) (AddResult, error) {
	if err := req.Validate(); err != nil {
		return AddResult{}, err
	}
	if !p.Authenticated() {
		return AddResult{Status: StatusUnauthenticated}, nil
	}

	entry := s.newEntry(p, req)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		return newQueries(s.store, tx).insertEntry(ctx, entry)
	})
	if err != nil {
		return AddResult{}, err
	}
	return AddResult{Status: StatusCreated, Entry: entry}, nil
}

// AddBatch stores all entries for p in one transaction, preserving input
// order. Either every entry is stored or none is. Every item is validated
// before anything is written.
func (s *Service) AddBatch(ctx context.Context, p auth.Principal, reqs []EntryRequest) (ListResult, error) {
	if len(reqs) > MaxBatchSize {
		return ListResult{}, errs.New(errs.InvalidArgument, fmt.Sprintf("batch exceeds %d entries", MaxBatchSize))
	}
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			return ListResult{}, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("batch item %d: %s", i, errs.MessageOf(err)), err)
		}
	}
	if !p.Authenticated() {
		return ListResult{Status: StatusUnauthenticated}, nil
	}
	if len(reqs) == 0 {
		return ListResult{Status: StatusCreated, Entries: []Entry{}}, nil
	}

	out := make([]Entry, len(reqs))
	err := s.store.WithTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		q := newQueries(s.store, tx)
		for i, req := range reqs {
			entry := s.newEntry(p, req)
			if err := q.insertEntry(ctx, entry); err != nil {
				return fmt.Errorf("batch item %d: %w", i, err)
			}
			out[i] = *entry
		}
		return nil
	})
	if err != nil {
		return ListResult{}, err
	}

	obs.From(ctx).Debug("entries: batch stored", "count", len(out))
	return ListResult{Status: StatusCreated, Entries: out}, nil
}

func (s *Service) newEntry(p auth.Principal, req EntryRequest) *Entry {
	return &Entry{
		Data:      Fold(*req.Data),
		UserID:    p.UserID,
		CreatedAt: s.now(),
	}
}
