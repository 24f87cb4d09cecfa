// Package coord defines the narrow view of the coordination service the
// lock needs, and a ZooKeeper implementation of it.
package coord

import "github.com/pixperk/zkmutex/pkg/types"

// receives session and watch notifications
// it is called from the client's own goroutines, never from the caller
// of a Conn method, and must not block for long
type EventHandler func(types.Event)

// a session with the coordination service
// errors for missing nodes, existing nodes, expired sessions and closed
// connections are reported as the matching sentinels in package types
type Conn interface {
	// reports whether a node exists
	Exists(path string) (bool, error)
	// creates a node and returns its assigned path, which differs from path
	// for sequential modes
	// a protected create that loses its reply to a dropped connection
	// finds its node again by the guid in the name before retrying
	Create(path string, data []byte, mode types.CreateMode) (string, error)
	// lists child names of a node in no particular order
	Children(path string) ([]string, error)
	// reads a node's data
	Get(path string) ([]byte, error)
	// arms a one-shot watch that fires on the node's next data change or
	// deletion; reports false without arming anything if the node is gone
	Watch(path string) (bool, error)
	// deletes a node, version -1 matches any version
	Delete(path string, version int32) error
	// ends the session; its ephemeral nodes are removed by the service
	Close()
}

// opens a session that reports events to handler
type Dialer func(handler EventHandler) (Conn, error)
