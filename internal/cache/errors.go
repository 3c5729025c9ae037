package cache

// InitError wraps a failure during first-run cache bootstrap. It is the one
// error the process treats as fatal at startup.
type InitError struct {
	Err error
}

func (e *InitError) Error() string { return "init cache: " + e.Err.Error() }

func (e *InitError) Unwrap() error { return e.Err }

// ReadError reports a persisted artifact that is missing or corrupt.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string { return "read cache artifact " + e.Path + ": " + e.Err.Error() }

func (e *ReadError) Unwrap() error { return e.Err }

// InvalidViewError reports an unrecognized view name at the API boundary.
type InvalidViewError struct {
	Name string
}

func (e *InvalidViewError) Error() string {
	return "\"" + e.Name + "\" is not a valid view: use full, min or upcoming"
}
