package network

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession is an in-memory Session for manager tests.
type fakeSession struct {
	mu     sync.Mutex
	calls  []string
	notifs chan Notification
	done   chan struct{}
	err    error
	once   sync.Once

	// callFn overrides responses; default answers server.version.
	callFn func(method string, params, result interface{}) error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		notifs: make(chan Notification, 8),
		done:   make(chan struct{}),
	}
}

func (f *fakeSession) Call(_ context.Context, method string, params, result interface{}) error {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	fn := f.callFn
	f.mu.Unlock()
	if fn != nil {
		return fn(method, params, result)
	}
	return nil
}

func (f *fakeSession) Notifications() <-chan Notification { return f.notifs }
func (f *fakeSession) Done() <-chan struct{}              { return f.done }

func (f *fakeSession) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeSession) Close() error {
	f.once.Do(func() {
		close(f.done)
		close(f.notifs)
	})
	return nil
}

// dropWithErr simulates an unexpected remote drop.
func (f *fakeSession) dropWithErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	f.Close()
}

func testEndpoints(n int) []ServerEndpoint {
	eps := make([]ServerEndpoint, n)
	for i := range eps {
		eps[i] = ServerEndpoint{URL: "wss://server" + string(rune('a'+i)) + ".example:50004"}
	}
	return eps
}

func fastConfig(eps []ServerEndpoint, dial DialFunc) ManagerConfig {
	return ManagerConfig{
		Endpoints:      eps,
		ConnectTimeout: 15 * time.Millisecond,
		PauseDuration:  120 * time.Millisecond,
		FailoverRounds: 2,
		Logger:         zerolog.Nop(),
		Dial:           dial,
	}
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want },
		2*time.Second, 2*time.Millisecond, "manager never reached %s", want)
}

// --- manager tests ---

func TestManager_ConnectSuccess(t *testing.T) {
	sess := newFakeSession()
	dial := func(ctx context.Context, url string, _ zerolog.Logger) (Session, error) {
		return sess, nil
	}
	m, err := NewManager(fastConfig(testEndpoints(2), dial))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Connect("wallet-1"))
	waitState(t, m, StateConnected)

	// The identity handshake went out on the new session.
	sess.mu.Lock()
	defer sess.mu.Unlock()
	assert.Contains(t, sess.calls, methodVersion)
}

func TestManager_ConnectTwiceSameIdentityIsNoOp(t *testing.T) {
	var dials atomic.Int32
	dial := func(ctx context.Context, url string, _ zerolog.Logger) (Session, error) {
		dials.Add(1)
		return newFakeSession(), nil
	}
	m, err := NewManager(fastConfig(testEndpoints(2), dial))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Connect("wallet-1"))
	waitState(t, m, StateConnected)
	require.NoError(t, m.Connect("wallet-1"))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), dials.Load())
}

func TestManager_FailoverAdvancesThroughList(t *testing.T) {
	var mu sync.Mutex
	var dialed []string
	dial := func(ctx context.Context, url string, _ zerolog.Logger) (Session, error) {
		mu.Lock()
		dialed = append(dialed, url)
		mu.Unlock()
		return nil, errors.New("refused")
	}
	eps := testEndpoints(3)
	m, err := NewManager(fastConfig(eps, dial))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Connect("wallet-1"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(dialed) >= 3
	}, 2*time.Second, 2*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, eps[0].URL, dialed[0])
	assert.Equal(t, eps[1].URL, dialed[1])
	assert.Equal(t, eps[2].URL, dialed[2])
}

// After listLength × FailoverRounds consecutive failures the manager pauses
// instead of retrying immediately, then resumes with a reset counter.
func TestManager_PausesAfterExhaustingList(t *testing.T) {
	var dials atomic.Int32
	dial := func(ctx context.Context, url string, _ zerolog.Logger) (Session, error) {
		dials.Add(1)
		return nil, errors.New("refused")
	}
	eps := testEndpoints(2)
	m, err := NewManager(fastConfig(eps, dial))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Connect("wallet-1"))
	waitState(t, m, StatePaused)

	// Exactly listLength × 2 attempts were made before the pause.
	assert.Equal(t, int32(len(eps)*2), dials.Load())

	// The cool-down expires and dialing resumes.
	require.Eventually(t, func() bool {
		return dials.Load() > int32(len(eps)*2)
	}, 2*time.Second, 2*time.Millisecond)
}

func TestManager_SuccessResetsAttemptCounter(t *testing.T) {
	var dials atomic.Int32
	dial := func(ctx context.Context, url string, _ zerolog.Logger) (Session, error) {
		// Fail the first two attempts, then succeed.
		if dials.Add(1) <= 2 {
			return nil, errors.New("refused")
		}
		return newFakeSession(), nil
	}
	m, err := NewManager(fastConfig(testEndpoints(3), dial))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Connect("wallet-1"))
	waitState(t, m, StateConnected)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 0, m.attempts)
}

func TestManager_UnexpectedDropReconnects(t *testing.T) {
	var sessions []*fakeSession
	var mu sync.Mutex
	dial := func(ctx context.Context, url string, _ zerolog.Logger) (Session, error) {
		s := newFakeSession()
		mu.Lock()
		sessions = append(sessions, s)
		mu.Unlock()
		return s, nil
	}
	m, err := NewManager(fastConfig(testEndpoints(2), dial))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Connect("wallet-1"))
	waitState(t, m, StateConnected)

	mu.Lock()
	first := sessions[0]
	mu.Unlock()
	first.dropWithErr(errors.New("peer went away"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sessions) >= 2
	}, 2*time.Second, 2*time.Millisecond, "no reconnect after unexpected drop")
	waitState(t, m, StateConnected)
}

func TestManager_UserDisconnectStaysDown(t *testing.T) {
	var dials atomic.Int32
	dial := func(ctx context.Context, url string, _ zerolog.Logger) (Session, error) {
		dials.Add(1)
		return newFakeSession(), nil
	}
	m, err := NewManager(fastConfig(testEndpoints(2), dial))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Connect("wallet-1"))
	waitState(t, m, StateConnected)
	m.Disconnect()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, int32(1), dials.Load(), "user disconnect must not schedule a reconnect")
}

func TestManager_BroadcastRequiresConnection(t *testing.T) {
	dial := func(ctx context.Context, url string, _ zerolog.Logger) (Session, error) {
		return nil, errors.New("refused")
	}
	m, err := NewManager(fastConfig(testEndpoints(1), dial))
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Broadcast(context.Background(), "00")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManager_BroadcastForwards(t *testing.T) {
	sess := newFakeSession()
	sess.callFn = func(method string, params, result interface{}) error {
		if method == methodBroadcast {
			*(result.(*string)) = "txid-1"
		}
		return nil
	}
	dial := func(ctx context.Context, url string, _ zerolog.Logger) (Session, error) {
		return sess, nil
	}
	m, err := NewManager(fastConfig(testEndpoints(1), dial))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Connect("wallet-1"))
	waitState(t, m, StateConnected)

	txid, err := m.Broadcast(context.Background(), "0011")
	require.NoError(t, err)
	assert.Equal(t, "txid-1", txid)
}

func TestManager_BroadcastRejectsNonHex(t *testing.T) {
	m, err := NewManager(fastConfig(testEndpoints(1), func(ctx context.Context, url string, _ zerolog.Logger) (Session, error) {
		return newFakeSession(), nil
	}))
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Broadcast(context.Background(), "zz-not-hex")
	assert.ErrorIs(t, err, ErrBroadcastRejected)
}

func TestManager_NotificationsSurviveReconnect(t *testing.T) {
	var sessions []*fakeSession
	var mu sync.Mutex
	dial := func(ctx context.Context, url string, _ zerolog.Logger) (Session, error) {
		s := newFakeSession()
		mu.Lock()
		sessions = append(sessions, s)
		mu.Unlock()
		return s, nil
	}
	m, err := NewManager(fastConfig(testEndpoints(2), dial))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Connect("wallet-1"))
	waitState(t, m, StateConnected)

	mu.Lock()
	sessions[0].notifs <- Notification{ScriptID: "s1", Status: "a"}
	mu.Unlock()

	select {
	case n := <-m.Notifications():
		assert.Equal(t, "s1", n.ScriptID)
	case <-time.After(time.Second):
		t.Fatal("notification not forwarded")
	}

	mu.Lock()
	sessions[0].dropWithErr(errors.New("gone"))
	mu.Unlock()

	// The state reads Connected until the watch goroutine processes the
	// drop, so wait for the reconnect dial itself before asserting.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sessions) >= 2
	}, 2*time.Second, 5*time.Millisecond, "no reconnect dial after drop")
	waitState(t, m, StateConnected)

	mu.Lock()
	sessions[1].notifs <- Notification{ScriptID: "s2", Status: "b"}
	mu.Unlock()

	select {
	case n := <-m.Notifications():
		assert.Equal(t, "s2", n.ScriptID)
	case <-time.After(time.Second):
		t.Fatal("notification lost across reconnect")
	}
}

func TestNewManager_NoEndpoints(t *testing.T) {
	_, err := NewManager(ManagerConfig{})
	assert.ErrorIs(t, err, ErrNoEndpoints)
}
