package stream

import (
	"errors"
	"io"
	"net"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/tanklink/tankbridge/internal/platform/retry"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"client closed", redis.ErrClosed, true},
		{"eof", io.EOF, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"net op error", &net.OpError{Op: "dial", Err: timeoutErr{}}, true},
		{"wrapped net error", errors.Join(errors.New("read"), &net.OpError{Op: "read", Err: timeoutErr{}}), true},
		{"store error", errors.New("ERR no such key"), false},
		{"empty read", redis.Nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnectionError(tt.err))
		})
	}
}

func TestClassifyDial(t *testing.T) {
	assert.Equal(t, retry.Stop, classifyDial(&permanentDialError{err: errors.New("bad url")}))
	assert.Equal(t, retry.Retry, classifyDial(errors.New("connection refused")))
}

func TestDialOptions_RetryBudget(t *testing.T) {
	opts, err := dialOptions("redis://localhost:6379/0")
	assert.NoError(t, err)

	assert.Equal(t, commandRetries, opts.MaxRetries)
	assert.Equal(t, commandBackoff, opts.MinRetryBackoff)
	assert.Equal(t, commandBackoffCap, opts.MaxRetryBackoff)
}

func TestDial_RejectsMalformedURL(t *testing.T) {
	c := &Client{url: "not-a-redis-url://"}
	_, err := c.dial(t.Context())

	var permanent *permanentDialError
	assert.ErrorAs(t, err, &permanent)
}

func TestEntryValuesFeedCommandParsing(t *testing.T) {
	// XRead hands values back as map[string]any with string values; the
	// Entry type must carry them through untouched.
	e := Entry{ID: "1700000000000-0", Values: map[string]any{"command": "stop", "tankId": "T1"}}
	assert.Equal(t, "stop", e.Values["command"])
	assert.Equal(t, "T1", e.Values["tankId"])
}
