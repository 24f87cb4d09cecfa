// Package memzk is an in-process coordination tree with ZooKeeper node
// semantics: persistent and ephemeral sequential nodes, one-shot data
// watches and session expiry. It backs tests and the demo command; it is
// neither replicated nor durable.
package memzk

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	tm "time"

	"github.com/pixperk/zkmutex/pkg/coord"
	"github.com/pixperk/zkmutex/pkg/time"
	"github.com/pixperk/zkmutex/pkg/types"
)

var errInvalidPath = errors.New("invalid node path")

// manages the node tree and the sessions that own ephemeral nodes
// critical :
// - sequence suffixes are strictly increasing per parent
// - ephemeral nodes never outlive their session
// - a watch fires at most once
type Server struct {
	mu sync.RWMutex

	nodes    map[string]*node                 // path -> node
	sessions map[int64]*Session               // session ID -> session
	watches  map[string]map[*Session]struct{} // path -> sessions watching it

	nextSessionID int64

	lostReplies int // successful creates left whose reply is dropped

	clock *time.Clock // monotonic clock for session deadlines
}

type node struct {
	data           []byte
	version        int32
	ephemeralOwner int64 // 0 for persistent nodes
	children       map[string]struct{}
	nextSeq        uint64 // next sequence suffix handed to a child
}

func NewServer() *Server {
	return &Server{
		nodes: map[string]*node{
			"/": {children: make(map[string]struct{})},
		},
		sessions:      make(map[int64]*Session),
		watches:       make(map[string]map[*Session]struct{}),
		nextSessionID: 1, //0 marks persistent nodes
		clock:         time.NewClock(),
	}
}

// opens a session
// a session with a positive timeout expires once it goes that long
// without an operation or Ping and ExpireStale runs
func (s *Server) Connect(timeout tm.Duration, handler coord.EventHandler) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{
		id:      s.nextSessionID,
		srv:     s,
		timeout: timeout,
		queue:   newEventQueue(handler),
	}
	s.nextSessionID++
	sess.touchLocked()
	s.sessions[sess.id] = sess

	sess.queue.push(types.Event{Type: types.EventSession, State: types.StateConnected})
	return sess
}

// adapts Connect to the coord.Dialer signature
func (s *Server) Dialer(timeout tm.Duration) coord.Dialer {
	return func(handler coord.EventHandler) (coord.Conn, error) {
		return s.Connect(timeout, handler), nil
	}
}

// expires every session whose deadline has passed and returns how many
func (s *Server) ExpireStale() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []*Session
	for _, sess := range s.sessions {
		if sess.timeout > 0 && s.clock.Passed(sess.deadline) {
			stale = append(stale, sess)
		}
	}

	for _, sess := range stale {
		s.endSessionLocked(sess, types.ErrSessionExpired, types.StateExpired)
	}

	return len(stale)
}

// runs ExpireStale every interval until ctx is done
func (s *Server) Run(ctx context.Context, interval tm.Duration) {
	ticker := tm.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ExpireStale()
		case <-ctx.Done():
			return
		}
	}
}

// applies the next n successful creates but answers them with
// ErrConnectionClosed, as when the connection drops before the reply
// reaches the client
func (s *Server) LoseCreateReplies(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lostReplies = n
}

func (s *Server) replyLocked(created string, err error) (string, error) {
	if err == nil && s.lostReplies > 0 {
		s.lostReplies--
		return "", types.ErrConnectionClosed
	}
	return created, err
}

// current tree stats
type Stats struct {
	Nodes    int //excluding the root
	Sessions int
	Watches  int
}

func (s *Server) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	watches := 0
	for _, watchers := range s.watches {
		watches += len(watchers)
	}

	return Stats{
		Nodes:    len(s.nodes) - 1,
		Sessions: len(s.sessions),
		Watches:  watches,
	}
}

func (s *Server) createLocked(owner *Session, p string, data []byte, mode types.CreateMode) (string, error) {
	if !strings.HasPrefix(p, "/") || p == "/" || strings.Contains(p, "//") {
		return "", fmt.Errorf("%w: %q", errInvalidPath, p)
	}
	if strings.HasSuffix(p, "/") && !mode.IsSequential() {
		return "", fmt.Errorf("%w: %q", errInvalidPath, p)
	}

	parentPath := path.Dir(p)
	parent, exists := s.nodes[parentPath]
	if !exists {
		return "", types.ErrNoNode
	}
	if parent.ephemeralOwner != 0 {
		return "", types.ErrNoChildrenForEph
	}

	if mode.IsSequential() {
		p += types.SequenceSuffix(parent.nextSeq)
		parent.nextSeq++
	}

	if _, exists := s.nodes[p]; exists {
		return "", types.ErrNodeExists
	}

	n := &node{
		data:     append([]byte(nil), data...),
		children: make(map[string]struct{}),
	}
	if mode.IsEphemeral() {
		n.ephemeralOwner = owner.id
	}

	s.nodes[p] = n
	parent.children[path.Base(p)] = struct{}{}

	return p, nil
}

func (s *Server) deleteLocked(p string, version int32) error {
	if p == "/" {
		return fmt.Errorf("%w: the root cannot be deleted", errInvalidPath)
	}

	n, exists := s.nodes[p]
	if !exists {
		return types.ErrNoNode
	}
	if version != -1 && version != n.version {
		return types.ErrBadVersion
	}
	if len(n.children) > 0 {
		return types.ErrNotEmpty
	}

	delete(s.nodes, p)
	if parent, ok := s.nodes[path.Dir(p)]; ok {
		delete(parent.children, path.Base(p))
	}

	s.fireLocked(p, types.EventNodeDeleted)
	return nil
}

// delivers a one-shot watch event to every session watching p
func (s *Server) fireLocked(p string, evType types.EventType) {
	for sess := range s.watches[p] {
		sess.queue.push(types.Event{Type: evType, State: types.StateConnected, Path: p})
	}
	delete(s.watches, p)
}

// ends a session: its ephemeral nodes go first so other watchers hear
// about them, then its own watches are dropped with cause
func (s *Server) endSessionLocked(sess *Session, cause error, state types.State) {
	if sess.ended != nil {
		return
	}
	sess.ended = cause
	delete(s.sessions, sess.id)

	var owned []string
	for p, n := range s.nodes {
		if n.ephemeralOwner == sess.id {
			owned = append(owned, p)
		}
	}
	sort.Strings(owned)
	for _, p := range owned {
		_ = s.deleteLocked(p, -1)
	}

	var watched []string
	for p, watchers := range s.watches {
		if _, ok := watchers[sess]; ok {
			delete(watchers, sess)
			if len(watchers) == 0 {
				delete(s.watches, p)
			}
			watched = append(watched, p)
		}
	}
	sort.Strings(watched)
	for _, p := range watched {
		sess.queue.push(types.Event{Type: types.EventNotWatching, State: state, Path: p, Err: cause})
	}

	sess.queue.push(types.Event{Type: types.EventSession, State: state})
	sess.queue.stop()
}
