package chain

import (
	"errors"
	"fmt"
)

// FetchEventsError wraps any failure while fetching logs for a block range.
// The scanner treats it as a signal to reset its window size and abort the
// current cycle; the next scheduled run retries from the unchanged cursor.
type FetchEventsError struct {
	FromBlock uint64
	ToBlock   uint64
	Err       error
}

func (e *FetchEventsError) Error() string {
	return fmt.Sprintf("error retrieving events from-block=%d to-block=%d: %v", e.FromBlock, e.ToBlock, e.Err)
}

func (e *FetchEventsError) Unwrap() error {
	return e.Err
}

// NewFetchEventsError creates a new FetchEventsError.
func NewFetchEventsError(fromBlock, toBlock uint64, err error) error {
	return &FetchEventsError{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Err:       err,
	}
}

// IsFetchEventsError reports whether err is (or wraps) a FetchEventsError.
func IsFetchEventsError(err error) bool {
	var fetchErr *FetchEventsError
	return errors.As(err, &fetchErr)
}
