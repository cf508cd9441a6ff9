package relay

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanklink/tankbridge/internal/domain"
	"github.com/tanklink/tankbridge/internal/registry"
	"github.com/tanklink/tankbridge/internal/stream"
)

// fakeLog is an in-memory cursor-addressed stream.
type fakeLog struct {
	mu       sync.Mutex
	entries  []stream.Entry
	readErrs []error // consumed one per read before entries are served
	delErr   error
	resets   int
	deleted  []string
}

func (f *fakeLog) ReadFrom(ctx context.Context, _, cursor string, count int64, _ time.Duration) ([]stream.Entry, error) {
	f.mu.Lock()
	if len(f.readErrs) > 0 {
		err := f.readErrs[0]
		f.readErrs = f.readErrs[1:]
		f.mu.Unlock()
		return nil, err
	}

	var batch []stream.Entry
	for _, e := range f.entries {
		if e.ID > cursor && int64(len(batch)) < count {
			batch = append(batch, e)
		}
	}
	f.mu.Unlock()

	if len(batch) == 0 {
		// Simulate a blocking read with nothing arriving until shutdown.
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return batch, nil
}

func (f *fakeLog) Delete(_ context.Context, _, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delErr != nil {
		return f.delErr
	}
	f.deleted = append(f.deleted, id)
	for i, e := range f.entries {
		if e.ID == id {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeLog) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakeLog) remaining() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		ids = append(ids, e.ID)
	}
	return ids
}

func (f *fakeLog) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

// fakeForwarder records forwards and fails configured targets.
type fakeForwarder struct {
	mu          sync.Mutex
	unavailable map[string]bool
	forwarded   []forwardCall
}

type forwardCall struct {
	tankID  string
	payload domain.Payload
}

func (f *fakeForwarder) Forward(tankID string, payload domain.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable[tankID] {
		return domain.ErrTargetUnavailable
	}
	f.forwarded = append(f.forwarded, forwardCall{tankID: tankID, payload: payload})
	return nil
}

func (f *fakeForwarder) calls() []forwardCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]forwardCall(nil), f.forwarded...)
}

func commandEntry(id, tankID, command string) stream.Entry {
	return stream.Entry{ID: id, Values: map[string]any{"command": command, "tankId": tankID}}
}

func runRelay(t *testing.T, log *fakeLog, fwd forwarder, clock clockwork.Clock) (cancel func()) {
	t.Helper()
	r := New(log, fwd, "tank_commands", "0-0", 20, 5*time.Second, clock)

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	cancel = func() {
		stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("relay did not stop after cancellation")
		}
	}
	t.Cleanup(cancel)
	return cancel
}

func TestRelay_DeliversAndDeletes(t *testing.T) {
	log := &fakeLog{entries: []stream.Entry{commandEntry("1-0", "T1", "forward")}}
	fwd := &fakeForwarder{}
	runRelay(t, log, fwd, clockwork.NewRealClock())

	require.Eventually(t, func() bool { return len(fwd.calls()) == 1 }, time.Second, time.Millisecond)

	call := fwd.calls()[0]
	assert.Equal(t, "T1", call.tankID)
	assert.Equal(t, domain.Payload{"command": "forward"}, call.payload)

	require.Eventually(t, func() bool { return len(log.remaining()) == 0 }, time.Second, time.Millisecond)
}

func TestRelay_InvalidEntryDiscardedWithoutDelete(t *testing.T) {
	log := &fakeLog{entries: []stream.Entry{
		{ID: "1-0", Values: map[string]any{"command": "spin", "tankId": "T1"}},
		commandEntry("2-0", "T1", "stop"),
	}}
	fwd := &fakeForwarder{}
	runRelay(t, log, fwd, clockwork.NewRealClock())

	require.Eventually(t, func() bool { return len(fwd.calls()) == 1 }, time.Second, time.Millisecond)

	// Only the valid entry was forwarded and acknowledged; the invalid one
	// stays behind for retention trimming.
	assert.Equal(t, "T1", fwd.calls()[0].tankID)
	assert.Equal(t, domain.Payload{"command": "stop"}, fwd.calls()[0].payload)
	assert.Equal(t, []string{"1-0"}, log.remaining())
}

func TestRelay_UnavailableTargetLeavesEntry(t *testing.T) {
	log := &fakeLog{entries: []stream.Entry{commandEntry("1-0", "T9", "stop")}}
	fwd := &fakeForwarder{unavailable: map[string]bool{"T9": true}}
	cancel := runRelay(t, log, fwd, clockwork.NewRealClock())

	// Give the relay a moment to observe the entry, then shut down.
	require.Eventually(t, func() bool {
		return len(log.remaining()) == 1 && len(fwd.calls()) == 0
	}, time.Second, time.Millisecond)
	cancel()

	assert.Empty(t, fwd.calls())
	assert.Equal(t, []string{"1-0"}, log.remaining())
}

func TestRelay_PreservesLogOrder(t *testing.T) {
	log := &fakeLog{entries: []stream.Entry{
		commandEntry("1-0", "T1", "forward"),
		commandEntry("2-0", "T2", "left"),
		commandEntry("3-0", "T1", "stop"),
	}}
	fwd := &fakeForwarder{}
	runRelay(t, log, fwd, clockwork.NewRealClock())

	require.Eventually(t, func() bool { return len(fwd.calls()) == 3 }, time.Second, time.Millisecond)

	calls := fwd.calls()
	assert.Equal(t, "forward", calls[0].payload["command"])
	assert.Equal(t, "left", calls[1].payload["command"])
	assert.Equal(t, "stop", calls[2].payload["command"])
}

func TestRelay_ConnectionLostTriggersResetAndShortPause(t *testing.T) {
	clock := clockwork.NewFakeClock()
	log := &fakeLog{
		readErrs: []error{io.EOF},
		entries:  []stream.Entry{commandEntry("1-0", "T1", "stop")},
	}
	fwd := &fakeForwarder{}
	runRelay(t, log, fwd, clock)

	require.Eventually(t, func() bool { return log.resetCount() == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, fwd.calls(), "no read happens before the pause elapses")

	clock.BlockUntil(1)
	clock.Advance(connectionLostPause)

	require.Eventually(t, func() bool { return len(fwd.calls()) == 1 }, time.Second, time.Millisecond)
}

func TestRelay_UnexpectedErrorPausesAndRetries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	log := &fakeLog{
		readErrs: []error{assert.AnError},
		entries:  []stream.Entry{commandEntry("1-0", "T1", "stop")},
	}
	fwd := &fakeForwarder{}
	runRelay(t, log, fwd, clock)

	clock.BlockUntil(1)
	assert.Zero(t, log.resetCount(), "non-connection errors do not reset the client")
	clock.Advance(errorPause)

	require.Eventually(t, func() bool { return len(fwd.calls()) == 1 }, time.Second, time.Millisecond)
}

func TestRelay_DeleteFailureIsIgnored(t *testing.T) {
	log := &fakeLog{
		entries: []stream.Entry{
			commandEntry("1-0", "T1", "forward"),
			commandEntry("2-0", "T1", "stop"),
		},
		delErr: assert.AnError,
	}
	fwd := &fakeForwarder{}
	runRelay(t, log, fwd, clockwork.NewRealClock())

	// Both entries are still forwarded even though acknowledgment fails.
	require.Eventually(t, func() bool { return len(fwd.calls()) == 2 }, time.Second, time.Millisecond)
}

func TestRelay_EndToEndThroughRegistry(t *testing.T) {
	reg := registry.New(clockwork.NewFakeClock(), 10*time.Minute)
	conn := &recordingConn{}
	require.NoError(t, reg.Register("T1", conn))

	log := &fakeLog{entries: []stream.Entry{
		{ID: "1-0", Values: map[string]any{"command": "FORWARD", "leftSpeed": "200", "tankId": "T1"}},
		commandEntry("2-0", "T9", "stop"),
	}}
	runRelay(t, log, reg, clockwork.NewRealClock())

	require.Eventually(t, func() bool { return len(conn.sent()) == 2 }, time.Second, time.Millisecond)

	// First frame is the hello, second the canonicalized command.
	var delivered map[string]any
	require.NoError(t, json.Unmarshal(conn.sent()[1], &delivered))
	assert.Equal(t, "forward", delivered["command"])
	assert.Equal(t, float64(200), delivered["leftSpeed"])
	assert.NotContains(t, delivered, "tankId")

	// T1's entry was acknowledged; T9's stays for retention trimming.
	require.Eventually(t, func() bool {
		remaining := log.remaining()
		return len(remaining) == 1 && remaining[0] == "2-0"
	}, time.Second, time.Millisecond)
}

type recordingConn struct {
	mu       sync.Mutex
	messages [][]byte
}

func (c *recordingConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, data)
	return nil
}

func (c *recordingConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *recordingConn) Close() error                              { return nil }

func (c *recordingConn) sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.messages...)
}
