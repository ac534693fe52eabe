package registry_test

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-intercom-relay/internal/registry"
	"github.com/tinywideclouds/go-intercom-relay/pkg/relay"
)

// fakeTransport records frames written to it and any injected write error.
type fakeTransport struct {
	mu       sync.Mutex
	frames   [][]byte
	writeErr error
	closed   bool
}

func (f *fakeTransport) WriteFrame(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeTransport) CloseWithReason(_ relay.CloseReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New(zerolog.Nop())
}

func TestRegisterAndDeregister(t *testing.T) {
	t.Run("Success - device becomes online and idle", func(t *testing.T) {
		r := newRegistry(t)

		err := r.Register(relay.DeviceID(42), &fakeTransport{})
		require.NoError(t, err)

		assert.True(t, r.IsOnline(42))
		assert.False(t, r.IsBusy(42))
	})

	t.Run("Duplicate registration is rejected, original transport untouched", func(t *testing.T) {
		r := newRegistry(t)
		first := &fakeTransport{}

		require.NoError(t, r.Register(42, first))
		err := r.Register(42, &fakeTransport{})
		require.ErrorIs(t, err, registry.ErrAlreadyConnected)

		// The first transport still serves sends.
		session, err := r.Claim(42, "user-1")
		require.NoError(t, err)
		require.NoError(t, r.Send(42, session.SessionID, 2, []byte("frame")))
		assert.Len(t, first.sentFrames(), 1)
	})

	t.Run("Deregister is idempotent", func(t *testing.T) {
		r := newRegistry(t)
		require.NoError(t, r.Register(42, &fakeTransport{}))

		r.Deregister(42)
		r.Deregister(42)

		assert.False(t, r.IsOnline(42))
		assert.False(t, r.IsBusy(42))
	})

	t.Run("Unknown device is neither online nor busy", func(t *testing.T) {
		r := newRegistry(t)
		assert.False(t, r.IsOnline(7))
		assert.False(t, r.IsBusy(7))
	})
}

func TestClaimAndRelease(t *testing.T) {
	t.Run("Success - claim marks device busy and records session", func(t *testing.T) {
		r := newRegistry(t)
		require.NoError(t, r.Register(42, &fakeTransport{}))

		session, err := r.Claim(42, "user-1")
		require.NoError(t, err)

		assert.True(t, r.IsBusy(42))
		assert.Equal(t, relay.DeviceID(42), session.DeviceID)
		assert.Equal(t, "user-1", session.UserID)
		assert.NotEmpty(t, session.SessionID)

		sessions := r.Sessions()
		require.Len(t, sessions, 1)
		assert.Equal(t, session.SessionID, sessions[0].SessionID)
	})

	t.Run("Claim on unknown device fails with ErrNotOnline", func(t *testing.T) {
		r := newRegistry(t)

		_, err := r.Claim(42, "user-1")
		require.ErrorIs(t, err, registry.ErrNotOnline)
		assert.False(t, r.IsBusy(42))
	})

	t.Run("Second claim on busy device fails with ErrAlreadyBusy", func(t *testing.T) {
		r := newRegistry(t)
		require.NoError(t, r.Register(42, &fakeTransport{}))
		_, err := r.Claim(42, "user-1")
		require.NoError(t, err)

		_, err = r.Claim(42, "user-2")
		require.ErrorIs(t, err, registry.ErrAlreadyBusy)

		// The original session is untouched.
		sessions := r.Sessions()
		require.Len(t, sessions, 1)
		assert.Equal(t, "user-1", sessions[0].UserID)
	})

	t.Run("Release clears busy flag and is idempotent", func(t *testing.T) {
		r := newRegistry(t)
		require.NoError(t, r.Register(42, &fakeTransport{}))
		session, err := r.Claim(42, "user-1")
		require.NoError(t, err)

		assert.True(t, r.Release(42, session.SessionID))
		assert.False(t, r.Release(42, session.SessionID))

		assert.False(t, r.IsBusy(42))
		assert.Empty(t, r.Sessions())

		// Device can be claimed again after release.
		_, err = r.Claim(42, "user-2")
		require.NoError(t, err)
	})

	t.Run("Release tolerates a device that already vanished", func(t *testing.T) {
		r := newRegistry(t)
		require.NoError(t, r.Register(42, &fakeTransport{}))
		session, err := r.Claim(42, "user-1")
		require.NoError(t, err)

		r.Deregister(42)
		assert.True(t, r.Release(42, session.SessionID))

		assert.False(t, r.IsBusy(42))
		assert.Empty(t, r.Sessions())
	})

	t.Run("Stale release after device churn leaves the live claim intact", func(t *testing.T) {
		r := newRegistry(t)
		require.NoError(t, r.Register(42, &fakeTransport{}))
		staleSession, err := r.Claim(42, "user-1")
		require.NoError(t, err)

		// The device drops and reconnects while user-1's session still
		// exists, and another user claims the fresh registration.
		r.Deregister(42)
		require.NoError(t, r.Register(42, &fakeTransport{}))
		liveSession, err := r.Claim(42, "user-2")
		require.NoError(t, err)

		// user-1's delayed cleanup must not clear user-2's claim.
		assert.False(t, r.Release(42, staleSession.SessionID))
		assert.True(t, r.IsBusy(42))

		_, err = r.Claim(42, "user-3")
		require.ErrorIs(t, err, registry.ErrAlreadyBusy)

		sessions := r.Sessions()
		require.Len(t, sessions, 1)
		assert.Equal(t, liveSession.SessionID, sessions[0].SessionID)
	})

	t.Run("Concurrent claims on one idle device yield exactly one success", func(t *testing.T) {
		r := newRegistry(t)
		require.NoError(t, r.Register(42, &fakeTransport{}))

		const attempts = 64
		var wg sync.WaitGroup
		results := make(chan error, attempts)

		wg.Add(attempts)
		for i := 0; i < attempts; i++ {
			go func() {
				defer wg.Done()
				_, err := r.Claim(42, "racer")
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		successes, busyRejections := 0, 0
		for err := range results {
			switch {
			case err == nil:
				successes++
			default:
				require.ErrorIs(t, err, registry.ErrAlreadyBusy)
				busyRejections++
			}
		}
		assert.Equal(t, 1, successes)
		assert.Equal(t, attempts-1, busyRejections)
	})
}

func TestSend(t *testing.T) {
	t.Run("Success - frame reaches the device transport verbatim", func(t *testing.T) {
		r := newRegistry(t)
		transport := &fakeTransport{}
		require.NoError(t, r.Register(42, transport))
		session, err := r.Claim(42, "user-1")
		require.NoError(t, err)

		frame := []byte{0xDE, 0xAD, 0xBE, 0xEF}
		require.NoError(t, r.Send(42, session.SessionID, 2, frame))

		frames := transport.sentFrames()
		require.Len(t, frames, 1)
		assert.Equal(t, frame, frames[0])
	})

	t.Run("Frames keep their relative order", func(t *testing.T) {
		r := newRegistry(t)
		transport := &fakeTransport{}
		require.NoError(t, r.Register(42, transport))
		session, err := r.Claim(42, "user-1")
		require.NoError(t, err)

		for _, payload := range []string{"one", "two", "three"} {
			require.NoError(t, r.Send(42, session.SessionID, 2, []byte(payload)))
		}

		frames := transport.sentFrames()
		require.Len(t, frames, 3)
		assert.Equal(t, "one", string(frames[0]))
		assert.Equal(t, "two", string(frames[1]))
		assert.Equal(t, "three", string(frames[2]))
	})

	t.Run("Send to unknown device fails with ErrNotConnected", func(t *testing.T) {
		r := newRegistry(t)
		err := r.Send(42, "some-session", 2, []byte("frame"))
		require.ErrorIs(t, err, registry.ErrNotConnected)
	})

	t.Run("Send without the claim fails with ErrNotConnected", func(t *testing.T) {
		r := newRegistry(t)
		transport := &fakeTransport{}
		require.NoError(t, r.Register(42, transport))

		err := r.Send(42, "not-the-claim", 2, []byte("frame"))
		require.ErrorIs(t, err, registry.ErrNotConnected)
		err = r.Send(42, "", 2, []byte("frame"))
		require.ErrorIs(t, err, registry.ErrNotConnected)
		assert.Empty(t, transport.sentFrames())
	})

	t.Run("Stale session cannot relay through a re-registered device", func(t *testing.T) {
		r := newRegistry(t)
		require.NoError(t, r.Register(42, &fakeTransport{}))
		staleSession, err := r.Claim(42, "user-1")
		require.NoError(t, err)

		r.Deregister(42)
		fresh := &fakeTransport{}
		require.NoError(t, r.Register(42, fresh))

		// user-1's loop must see the device as gone, not rebind to the
		// fresh registration it never claimed.
		err = r.Send(42, staleSession.SessionID, 2, []byte("frame"))
		require.ErrorIs(t, err, registry.ErrNotConnected)
		assert.Empty(t, fresh.sentFrames())
	})

	t.Run("Transport write error propagates to the caller", func(t *testing.T) {
		r := newRegistry(t)
		transport := &fakeTransport{writeErr: assert.AnError}
		require.NoError(t, r.Register(42, transport))
		session, err := r.Claim(42, "user-1")
		require.NoError(t, err)

		err = r.Send(42, session.SessionID, 2, []byte("frame"))
		require.ErrorIs(t, err, assert.AnError)
	})
}

func TestSnapshotsAndCloseAll(t *testing.T) {
	t.Run("Devices snapshot reflects busy state", func(t *testing.T) {
		r := newRegistry(t)
		require.NoError(t, r.Register(1, &fakeTransport{}))
		require.NoError(t, r.Register(2, &fakeTransport{}))
		_, err := r.Claim(2, "user-1")
		require.NoError(t, err)

		statuses := r.Devices()
		require.Len(t, statuses, 2)
		byID := map[relay.DeviceID]relay.DeviceStatus{}
		for _, s := range statuses {
			byID[s.DeviceID] = s
		}
		assert.False(t, byID[1].Busy)
		assert.True(t, byID[2].Busy)
	})

	t.Run("CloseAll closes every transport", func(t *testing.T) {
		r := newRegistry(t)
		first, second := &fakeTransport{}, &fakeTransport{}
		require.NoError(t, r.Register(1, first))
		require.NoError(t, r.Register(2, second))

		r.CloseAll(relay.ReasonShuttingDown)

		assert.True(t, first.closed)
		assert.True(t, second.closed)
	})
}
