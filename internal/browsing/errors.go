package browsing

import "fmt"

// ContentFetchError reports that a loaded page could not be read for
// scanning. Such pages are always blocked.
type ContentFetchError struct {
	URL string
	Err error
}

func (e *ContentFetchError) Error() string {
	return fmt.Sprintf("content of %s unreadable: %v", e.URL, e.Err)
}

func (e *ContentFetchError) Unwrap() error { return e.Err }
