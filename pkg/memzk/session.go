package memzk

import (
	"errors"
	"path"
	"sort"
	"strings"

	tm "time"

	"github.com/google/uuid"
	"github.com/pixperk/zkmutex/pkg/types"
)

// tries of a protected create before giving up on a dropping connection
const protectedCreateAttempts = 3

// a client session against a Server, implements coord.Conn
type Session struct {
	id      int64
	srv     *Server
	timeout tm.Duration

	// guarded by srv.mu
	deadline tm.Duration
	ended    error

	queue *eventQueue
}

func (s *Session) ID() int64 { return s.id }

// renews the session deadline
func (s *Session) Ping() error {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()

	return s.aliveLocked()
}

// aliveLocked fails once the session has ended and otherwise renews it
func (s *Session) aliveLocked() error {
	if s.ended != nil {
		return s.ended
	}
	s.touchLocked()
	return nil
}

func (s *Session) touchLocked() {
	if s.timeout > 0 {
		s.deadline = s.srv.clock.Deadline(s.timeout)
	}
}

func (s *Session) Exists(path string) (bool, error) {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()

	if err := s.aliveLocked(); err != nil {
		return false, err
	}

	_, exists := s.srv.nodes[path]
	return exists, nil
}

func (s *Session) Create(p string, data []byte, mode types.CreateMode) (string, error) {
	if mode.IsProtected() {
		return s.createProtected(p, data)
	}
	return s.create(p, data, mode)
}

func (s *Session) create(p string, data []byte, mode types.CreateMode) (string, error) {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()

	if err := s.aliveLocked(); err != nil {
		return "", err
	}

	return s.srv.replyLocked(s.srv.createLocked(s, p, data, mode))
}

// tags the node name with a fresh guid so that when the reply is lost
// the node can be found among the parent's children instead of being
// left behind
func (s *Session) createProtected(p string, data []byte) (string, error) {
	guid := strings.ReplaceAll(uuid.NewString(), "-", "")
	dir, name := path.Split(p)
	parent := path.Clean(dir)

	for i := 0; i < protectedCreateAttempts; i++ {
		created, err := s.create(dir+types.ProtectedName(guid, name), data, types.ModeEphemeralSequential)
		if !errors.Is(err, types.ErrConnectionClosed) {
			return created, err
		}

		children, err := s.Children(parent)
		if err != nil {
			return "", err
		}
		for _, child := range children {
			if types.HasProtectedGUID(child, guid) {
				return path.Join(parent, child), nil
			}
		}
	}

	return "", types.ErrConnectionClosed
}

func (s *Session) Children(path string) ([]string, error) {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()

	if err := s.aliveLocked(); err != nil {
		return nil, err
	}

	n, exists := s.srv.nodes[path]
	if !exists {
		return nil, types.ErrNoNode
	}

	children := make([]string, 0, len(n.children))
	for name := range n.children {
		children = append(children, name)
	}
	return children, nil
}

func (s *Session) Get(path string) ([]byte, error) {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()

	if err := s.aliveLocked(); err != nil {
		return nil, err
	}

	n, exists := s.srv.nodes[path]
	if !exists {
		return nil, types.ErrNoNode
	}
	return append([]byte(nil), n.data...), nil
}

// replaces a node's data, firing its data watches
func (s *Session) Set(path string, data []byte, version int32) error {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()

	if err := s.aliveLocked(); err != nil {
		return err
	}

	n, exists := s.srv.nodes[path]
	if !exists {
		return types.ErrNoNode
	}
	if version != -1 && version != n.version {
		return types.ErrBadVersion
	}

	n.data = append([]byte(nil), data...)
	n.version++
	s.srv.fireLocked(path, types.EventNodeDataChanged)
	return nil
}

func (s *Session) Watch(path string) (bool, error) {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()

	if err := s.aliveLocked(); err != nil {
		return false, err
	}

	if _, exists := s.srv.nodes[path]; !exists {
		return false, nil
	}

	watchers, ok := s.srv.watches[path]
	if !ok {
		watchers = make(map[*Session]struct{})
		s.srv.watches[path] = watchers
	}
	watchers[s] = struct{}{}
	return true, nil
}

func (s *Session) Delete(path string, version int32) error {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()

	if err := s.aliveLocked(); err != nil {
		return err
	}

	return s.srv.deleteLocked(path, version)
}

// ephemeral nodes of this session, sorted by path
func (s *Session) Ephemerals() []string {
	s.srv.mu.RLock()
	defer s.srv.mu.RUnlock()

	var owned []string
	for p, n := range s.srv.nodes {
		if n.ephemeralOwner == s.id {
			owned = append(owned, p)
		}
	}
	sort.Strings(owned)
	return owned
}

// ends the session as a client would on shutdown
func (s *Session) Close() {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()

	s.srv.endSessionLocked(s, types.ErrConnectionClosed, types.StateClosed)
}

// ends the session as the service does when heartbeats stop,
// simulating a crashed client
func (s *Session) Expire() {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()

	s.srv.endSessionLocked(s, types.ErrSessionExpired, types.StateExpired)
}
