package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/mailwatch/internal/model"
)

// SearchLimit bounds how many message ids a single search returns.
// Larger bursts are spread across subsequent poll cycles.
const SearchLimit = 10

// SearchError indicates that listing messages for a query failed.
type SearchError struct {
	Query string
	Err   error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("searching %q: %v", e.Query, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// FetchError indicates that retrieving a single message failed.
type FetchError struct {
	ID  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching message %s: %v", e.ID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsFetchError reports whether err (or any error in its chain) is a FetchError.
func IsFetchError(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr)
}

// IsSearchError reports whether err (or any error in its chain) is a SearchError.
func IsSearchError(err error) bool {
	var searchErr *SearchError
	return errors.As(err, &searchErr)
}

// Fetcher is the contract every mailbox provider implements.
type Fetcher interface {
	// Search returns up to limit message ids matching query, in
	// provider order.
	Search(ctx context.Context, query string, limit int) ([]string, error)

	// Fetch returns the summary of a single message. It returns
	// (nil, nil) when the provider reports the message as missing or
	// not accessible.
	Fetch(ctx context.Context, id string) (*model.MessageSummary, error)
}
