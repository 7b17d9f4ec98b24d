// Package presence tracks which users have a live connection on this
// process. It is never persisted: after a restart every user is offline
// until they reconnect.
package presence

import (
	"sort"
	"sync"
)

// Conn is a live connection handle. Handles are compared by identity, so
// implementations should be pointer types.
type Conn interface {
	Send(payload []byte) error
}

// Table maps a user id to its single live connection. A later Register for
// the same user supersedes the earlier handle.
type Table struct {
	mu     sync.RWMutex
	byUser map[string]Conn
	byConn map[Conn]string
}

func NewTable() *Table {
	return &Table{
		byUser: make(map[string]Conn),
		byConn: make(map[Conn]string),
	}
}

// Register binds conn to userID and returns the handle it replaced, if any.
// The replaced handle is not notified.
func (t *Table) Register(userID string, conn Conn) (previous Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	previous = t.byUser[userID]
	if previous != nil {
		delete(t.byConn, previous)
	}
	if oldUser, ok := t.byConn[conn]; ok && oldUser != userID {
		delete(t.byUser, oldUser)
	}
	t.byUser[userID] = conn
	t.byConn[conn] = userID
	return previous
}

// Unregister removes the entry owned by conn. It reports false when conn
// is not the current handle of any user, e.g. a duplicate disconnect or a
// connection that was already superseded.
func (t *Table) Unregister(conn Conn) (userID string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byConn[conn]
	if !ok {
		return "", false
	}
	delete(t.byConn, conn)
	delete(t.byUser, id)
	return id, true
}

func (t *Table) Lookup(userID string) (Conn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byUser[userID]
	return c, ok
}

// Snapshot returns the online user ids in ascending order.
func (t *Table) Snapshot() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.byUser))
	for id := range t.byUser {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byUser)
}

// Each calls fn for every entry on a copy of the table, so fn may block or
// call back into the table.
func (t *Table) Each(fn func(userID string, conn Conn)) {
	t.mu.RLock()
	entries := make(map[string]Conn, len(t.byUser))
	for id, c := range t.byUser {
		entries[id] = c
	}
	t.mu.RUnlock()
	for id, c := range entries {
		fn(id, c)
	}
}
