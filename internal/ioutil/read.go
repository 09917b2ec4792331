package ioutil

import (
	"fmt"
	"io"
)

// ErrorBodyLimit bounds how much of an upstream error response is read
const ErrorBodyLimit = 4 << 10

// ReadLimited reads up to limit bytes from r and returns the content as a string.
// If reading fails, returns a string describing the read failure instead of silencing
// the error. This is intended for including response bodies in error messages and logs.
func ReadLimited(r io.Reader, limit int64) string {
	body, err := ReadLimitedBytes(r, limit)
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	return string(body)
}

// ReadLimitedBytes reads at most limit bytes from r
func ReadLimitedBytes(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, limit))
}

// DrainAndClose discards what is left of a response body, up to limit, so
// the connection can be reused, then closes it
func DrainAndClose(rc io.ReadCloser, limit int64) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	_ = rc.Close()
}
