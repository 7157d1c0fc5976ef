package cache

import (
	"errors"
	"fmt"

	cachekey "github.com/ericselin/swoff/pkg/cache-key"
)

var (
	// ErrStoreUnavailable means the persistence layer could not open a store.
	ErrStoreUnavailable = errors.New("Store unavailable")
	// ErrStoreNotOpen is returned by providers when writing to a store that was never opened.
	ErrStoreNotOpen = errors.New("Store not open")
	// ErrMethodNotSupported is returned when storing anything but GET.
	ErrMethodNotSupported = cachekey.ErrorMethodNotSupported
)

// FetchFailedError means a resource could not be retrieved for storing.
// Either Err is set, or the origin answered with a non-success StatusCode.
type FetchFailedError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Fetch of %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("Fetch of %s failed with status %d", e.URL, e.StatusCode)
}

func (e *FetchFailedError) Unwrap() error {
	return e.Err
}

// WriteFailedError means the provider did not accept a write.
type WriteFailedError struct {
	Key string
	Err error
}

func (e *WriteFailedError) Error() string {
	return fmt.Sprintf("Write of %s failed: %v", e.Key, e.Err)
}

func (e *WriteFailedError) Unwrap() error {
	return e.Err
}

// BulkFetchFailedError names the first URL of a batch that could not be stored.
type BulkFetchFailedError struct {
	URL string
	Err error
}

func (e *BulkFetchFailedError) Error() string {
	return fmt.Sprintf("Bulk store failed at %s: %v", e.URL, e.Err)
}

func (e *BulkFetchFailedError) Unwrap() error {
	return e.Err
}
