package entries

import (
	"strings"
	"time"

	"github.com/kuitang/entrystore/internal/errs"
)

const (
	// SearchLimit is the maximum number of entries a search returns.
	SearchLimit = 10

	// MaxBatchSize is the maximum number of entries accepted by one batch add.
	MaxBatchSize = 1000
)

// Entry is a stored note. Data is lower-cased at write time and never
// re-folded on read.
type Entry struct {
	ID        int64     `json:"id"`
	Data      string    `json:"data"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// EntryRequest is the input for add and batch add. Data is a pointer so a
// missing or null field can be told apart from "".
type EntryRequest struct {
	Data *string `json:"data"`
}

// NewEntryRequest builds a request carrying data.
func NewEntryRequest(data string) EntryRequest {
	return EntryRequest{Data: &data}
}

// Validate reports a missing or null data field.
func (r EntryRequest) Validate() error {
	if r.Data == nil {
		return errs.New(errs.InvalidArgument, "data is required")
	}
	return nil
}

// SearchRequest is the input for search. An empty query is valid; a missing
// one is not.
type SearchRequest struct {
	Query *string `json:"query"`
}

// NewSearchRequest builds a request carrying query.
func NewSearchRequest(query string) SearchRequest {
	return SearchRequest{Query: &query}
}

// Validate reports a missing or null query field.
func (r SearchRequest) Validate() error {
	if r.Query == nil {
		return errs.New(errs.InvalidArgument, "query is required")
	}
	return nil
}

// Status discriminates service outcomes that are not errors.
type Status int

const (
	StatusUnauthenticated Status = iota + 1
	StatusNotOwned
	StatusFound
	StatusCreated
)

func (s Status) String() string {
	switch s {
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusNotOwned:
		return "not_owned"
	case StatusFound:
		return "found"
	case StatusCreated:
		return "created"
	default:
		return "unknown"
	}
}

// Denied reports whether the caller gets the empty-list response.
func (s Status) Denied() bool {
	return s == StatusUnauthenticated || s == StatusNotOwned
}

// GetResult is the outcome of Get. Entry is set only for StatusFound.
type GetResult struct {
	Status Status
	Entry  *Entry
}

// AddResult is the outcome of Add. Entry is set only for StatusCreated.
type AddResult struct {
	Status Status
	Entry  *Entry
}

// ListResult is the outcome of Search and AddBatch.
type ListResult struct {
	Status  Status
	Entries []Entry
}

// Fold is the case normalization applied to stored data and search queries.
func Fold(s string) string {
	return strings.ToLower(s)
}
