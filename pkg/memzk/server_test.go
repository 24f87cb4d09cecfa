package memzk

import (
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pixperk/zkmutex/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collects events delivered to a session
type recorder struct {
	mu     sync.Mutex
	events []types.Event
	ch     chan types.Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan types.Event, 64)}
}

func (r *recorder) handle(ev types.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.ch <- ev
}

// waits for the next event matching want
func (r *recorder) next(t *testing.T, want types.EventType) types.Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event within timeout", want)
			return types.Event{}
		}
	}
}

func TestConnectDeliversSessionEvent(t *testing.T) {
	srv := NewServer()
	rec := newRecorder()

	sess := srv.Connect(0, rec.handle)
	defer sess.Close()

	ev := rec.next(t, types.EventSession)
	assert.Equal(t, types.StateConnected, ev.State)
	assert.Equal(t, 1, srv.Stats().Sessions)
}

func TestCreatePersistent(t *testing.T) {
	srv := NewServer()
	sess := srv.Connect(0, nil)
	defer sess.Close()

	created, err := sess.Create("/locks", []byte("locks"), types.ModePersistent)
	require.NoError(t, err)
	assert.Equal(t, "/locks", created)

	exists, err := sess.Exists("/locks")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := sess.Get("/locks")
	require.NoError(t, err)
	assert.Equal(t, []byte("locks"), data)

	// second create is a conflict
	_, err = sess.Create("/locks", nil, types.ModePersistent)
	assert.ErrorIs(t, err, types.ErrNodeExists)
}

func TestCreateRequiresParent(t *testing.T) {
	srv := NewServer()
	sess := srv.Connect(0, nil)
	defer sess.Close()

	_, err := sess.Create("/missing/child", nil, types.ModePersistent)
	assert.ErrorIs(t, err, types.ErrNoNode)
}

func TestCreateRejectsInvalidPaths(t *testing.T) {
	srv := NewServer()
	sess := srv.Connect(0, nil)
	defer sess.Close()

	for _, p := range []string{"", "locks", "/", "//locks", "/locks/"} {
		_, err := sess.Create(p, nil, types.ModePersistent)
		assert.Error(t, err, "path %q should be rejected", p)
	}
}

// sequence suffixes must strictly increase per parent
func TestSequentialNumbering(t *testing.T) {
	srv := NewServer()
	sess := srv.Connect(0, nil)
	defer sess.Close()

	_, err := sess.Create("/locks", nil, types.ModePersistent)
	require.NoError(t, err)

	var created []string
	for i := 0; i < 5; i++ {
		p, err := sess.Create("/locks/seq-", nil, types.ModeEphemeralSequential)
		require.NoError(t, err)
		created = append(created, p)
	}

	assert.Equal(t, "/locks/seq-0000000000", created[0])
	assert.Equal(t, "/locks/seq-0000000004", created[4])

	// deleting does not recycle numbers
	require.NoError(t, sess.Delete(created[4], -1))
	p, err := sess.Create("/locks/seq-", nil, types.ModeEphemeralSequential)
	require.NoError(t, err)
	assert.Equal(t, "/locks/seq-0000000005", p)

	children, err := sess.Children("/locks")
	require.NoError(t, err)
	sort.Strings(children)
	assert.Equal(t, []string{
		"seq-0000000000", "seq-0000000001", "seq-0000000002", "seq-0000000003", "seq-0000000005",
	}, children)
}

func TestProtectedCreate(t *testing.T) {
	srv := NewServer()
	sess := srv.Connect(0, nil)
	defer sess.Close()

	_, err := sess.Create("/locks", nil, types.ModePersistent)
	require.NoError(t, err)

	p, err := sess.Create("/locks/seq-", nil, types.ModeProtectedEphemeralSequential)
	require.NoError(t, err)

	name := path.Base(p)
	assert.True(t, strings.HasPrefix(name, types.ProtectedPrefix))
	assert.True(t, strings.HasSuffix(name, "-seq-0000000000"))

	seq, err := types.ParseSequence(name)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), seq)
	assert.Equal(t, []string{p}, sess.Ephemerals())
}

func TestProtectedCreateRecoversLostReply(t *testing.T) {
	srv := NewServer()
	sess := srv.Connect(0, nil)
	defer sess.Close()

	_, err := sess.Create("/locks", nil, types.ModePersistent)
	require.NoError(t, err)

	srv.LoseCreateReplies(1)

	// the create is applied, its reply dropped, and the node found again
	p, err := sess.Create("/locks/seq-", nil, types.ModeProtectedEphemeralSequential)
	require.NoError(t, err)
	assert.Equal(t, []string{p}, sess.Ephemerals())

	children, err := sess.Children("/locks")
	require.NoError(t, err)
	assert.Equal(t, []string{path.Base(p)}, children)
}

func TestPlainCreateLostReplyLeavesNode(t *testing.T) {
	srv := NewServer()
	sess := srv.Connect(0, nil)
	defer sess.Close()

	_, err := sess.Create("/locks", nil, types.ModePersistent)
	require.NoError(t, err)

	srv.LoseCreateReplies(1)

	_, err = sess.Create("/locks/seq-", nil, types.ModeEphemeralSequential)
	assert.ErrorIs(t, err, types.ErrConnectionClosed)

	// applied all the same, and the caller cannot tell which node is its own
	assert.Equal(t, []string{"/locks/seq-0000000000"}, sess.Ephemerals())

	// only the next reply was dropped
	p, err := sess.Create("/locks/seq-", nil, types.ModeEphemeralSequential)
	require.NoError(t, err)
	assert.Equal(t, "/locks/seq-0000000001", p)
}

func TestProtectedCreateGivesUpOnClosedSession(t *testing.T) {
	srv := NewServer()
	sess := srv.Connect(0, nil)

	_, err := sess.Create("/locks", nil, types.ModePersistent)
	require.NoError(t, err)
	sess.Close()

	_, err = sess.Create("/locks/seq-", nil, types.ModeProtectedEphemeralSequential)
	assert.ErrorIs(t, err, types.ErrConnectionClosed)
}

func TestEphemeralNodesCannotHaveChildren(t *testing.T) {
	srv := NewServer()
	sess := srv.Connect(0, nil)
	defer sess.Close()

	p, err := sess.Create("/seq-", nil, types.ModeEphemeralSequential)
	require.NoError(t, err)

	_, err = sess.Create(p+"/child", nil, types.ModePersistent)
	assert.ErrorIs(t, err, types.ErrNoChildrenForEph)
}

func TestDeleteConditions(t *testing.T) {
	srv := NewServer()
	sess := srv.Connect(0, nil)
	defer sess.Close()

	assert.ErrorIs(t, sess.Delete("/nope", -1), types.ErrNoNode)

	_, err := sess.Create("/locks", nil, types.ModePersistent)
	require.NoError(t, err)
	_, err = sess.Create("/locks/seq-", nil, types.ModeEphemeralSequential)
	require.NoError(t, err)

	assert.ErrorIs(t, sess.Delete("/locks", -1), types.ErrNotEmpty)
	assert.ErrorIs(t, sess.Delete("/locks/seq-0000000000", 3), types.ErrBadVersion)
	assert.NoError(t, sess.Delete("/locks/seq-0000000000", 0))
	assert.Error(t, sess.Delete("/", -1))
}

func TestWatchFiresOnceOnDelete(t *testing.T) {
	srv := NewServer()
	owner := srv.Connect(0, nil)
	defer owner.Close()

	rec := newRecorder()
	watcher := srv.Connect(0, rec.handle)
	defer watcher.Close()

	p, err := owner.Create("/seq-", nil, types.ModeEphemeralSequential)
	require.NoError(t, err)

	exists, err := watcher.Watch(p)
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, 1, srv.Stats().Watches)

	require.NoError(t, owner.Delete(p, -1))

	ev := rec.next(t, types.EventNodeDeleted)
	assert.Equal(t, p, ev.Path)
	assert.Equal(t, 0, srv.Stats().Watches, "watch must be consumed")
}

func TestWatchFiresOnDataChange(t *testing.T) {
	srv := NewServer()
	rec := newRecorder()
	sess := srv.Connect(0, rec.handle)
	defer sess.Close()

	_, err := sess.Create("/config", []byte("a"), types.ModePersistent)
	require.NoError(t, err)

	exists, err := sess.Watch("/config")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, sess.Set("/config", []byte("b"), 0))

	ev := rec.next(t, types.EventNodeDataChanged)
	assert.Equal(t, "/config", ev.Path)
}

func TestWatchOnMissingNode(t *testing.T) {
	srv := NewServer()
	sess := srv.Connect(0, nil)
	defer sess.Close()

	exists, err := sess.Watch("/nope")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, 0, srv.Stats().Watches)
}

// expiring a session removes its ephemerals and notifies other watchers
func TestExpireRemovesEphemerals(t *testing.T) {
	srv := NewServer()
	crashed := srv.Connect(0, nil)

	rec := newRecorder()
	watcher := srv.Connect(0, rec.handle)
	defer watcher.Close()

	_, err := watcher.Create("/locks", nil, types.ModePersistent)
	require.NoError(t, err)
	p, err := crashed.Create("/locks/seq-", nil, types.ModeEphemeralSequential)
	require.NoError(t, err)
	assert.Equal(t, []string{p}, crashed.Ephemerals())

	_, err = watcher.Watch(p)
	require.NoError(t, err)

	crashed.Expire()

	ev := rec.next(t, types.EventNodeDeleted)
	assert.Equal(t, p, ev.Path)

	exists, err := watcher.Exists(p)
	require.NoError(t, err)
	assert.False(t, exists)

	// the persistent root survives
	exists, err = watcher.Exists("/locks")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = crashed.Children("/locks")
	assert.ErrorIs(t, err, types.ErrSessionExpired)
	assert.Equal(t, 1, srv.Stats().Sessions)
}

// an ended session drops its own watches with the cause
func TestExpireInvalidatesOwnWatches(t *testing.T) {
	srv := NewServer()
	owner := srv.Connect(0, nil)
	defer owner.Close()

	rec := newRecorder()
	sess := srv.Connect(0, rec.handle)

	p, err := owner.Create("/seq-", nil, types.ModeEphemeralSequential)
	require.NoError(t, err)
	_, err = sess.Watch(p)
	require.NoError(t, err)

	sess.Expire()

	ev := rec.next(t, types.EventNotWatching)
	assert.Equal(t, p, ev.Path)
	assert.ErrorIs(t, ev.Err, types.ErrSessionExpired)

	ev = rec.next(t, types.EventSession)
	assert.Equal(t, types.StateExpired, ev.State)
	assert.Equal(t, 0, srv.Stats().Watches)
}

func TestCloseRemovesEphemerals(t *testing.T) {
	srv := NewServer()
	sess := srv.Connect(0, nil)

	_, err := sess.Create("/seq-", nil, types.ModeEphemeralSequential)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Stats().Nodes)

	sess.Close()
	sess.Close()

	assert.Equal(t, 0, srv.Stats().Nodes)
	assert.ErrorIs(t, sess.Ping(), types.ErrConnectionClosed)
}

func TestExpireStale(t *testing.T) {
	srv := NewServer()
	idle := srv.Connect(50*time.Millisecond, nil)
	forever := srv.Connect(0, nil)
	defer forever.Close()

	_, err := idle.Create("/seq-", nil, types.ModeEphemeralSequential)
	require.NoError(t, err)

	assert.Equal(t, 0, srv.ExpireStale(), "fresh sessions are not stale")

	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, 1, srv.ExpireStale())
	assert.Equal(t, 0, srv.Stats().Nodes)
	assert.ErrorIs(t, idle.Ping(), types.ErrSessionExpired)
	assert.NoError(t, forever.Ping())
}

func TestPingKeepsSessionAlive(t *testing.T) {
	srv := NewServer()
	sess := srv.Connect(60*time.Millisecond, nil)
	defer sess.Close()

	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		require.NoError(t, sess.Ping())
		assert.Equal(t, 0, srv.ExpireStale())
	}
}
