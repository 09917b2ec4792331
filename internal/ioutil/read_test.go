package ioutil

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

type trackingCloser struct {
	io.Reader
	closed bool
}

func (c *trackingCloser) Close() error {
	c.closed = true
	return nil
}

func TestReadLimited(t *testing.T) {
	assert.Equal(t, "hello", ReadLimited(strings.NewReader("hello world"), 5))
	assert.Equal(t, "<unreadable: boom>", ReadLimited(failingReader{}, 5))
}

func TestReadLimitedBytes(t *testing.T) {
	body, err := ReadLimitedBytes(strings.NewReader(strings.Repeat("a", ErrorBodyLimit*2)), ErrorBodyLimit)
	require.NoError(t, err)
	assert.Len(t, body, ErrorBodyLimit)
}

func TestDrainAndClose(t *testing.T) {
	rc := &trackingCloser{Reader: strings.NewReader("rest of body")}
	DrainAndClose(rc, 1024)
	assert.True(t, rc.closed)
}
