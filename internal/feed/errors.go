package feed

import "fmt"

// FetchError reports a failure to retrieve the upstream feed: a transport
// error, or a non-success HTTP status (Status is zero when the request
// never produced a response).
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch feed %s: unexpected status %d", redactURL(e.URL), e.Status)
	}
	return fmt.Sprintf("fetch feed %s: %v", redactURL(e.URL), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports that a feed body could not be decoded as an iCalendar
// document.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "parse feed: " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }
