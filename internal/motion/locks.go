package motion

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Token identifies the holder of an axis lock. Each command owns one token
// for its whole lifetime.
type Token string

// NewToken returns a fresh lock token.
func NewToken() Token {
	return Token(uuid.NewString())
}

var lastCommandID atomic.Uint64

// NextCommandID returns a process-unique command id. Ids are never zero.
func NextCommandID() CommandID {
	return CommandID(lastCommandID.Add(1))
}

// LockTable maps axis names to the token currently holding them.
type LockTable struct {
	mu      sync.Mutex
	holders map[string]Token
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{holders: make(map[string]Token)}
}

// Lock claims axis for token. It succeeds if the axis is free or already
// held by token.
func (l *LockTable) Lock(axis string, token Token) bool {
	if token == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if holder, ok := l.holders[axis]; ok && holder != token {
		return false
	}
	l.holders[axis] = token
	return true
}

// Unlock releases axis if token is the current holder.
func (l *LockTable) Unlock(axis string, token Token) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	holder, ok := l.holders[axis]
	if !ok || holder != token {
		return false
	}
	delete(l.holders, axis)
	return true
}

// Holder returns the token holding axis, or "" when unlocked.
func (l *LockTable) Holder(axis string) Token {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holders[axis]
}

// IsLocked reports whether any token holds axis.
func (l *LockTable) IsLocked(axis string) bool {
	return l.Holder(axis) != ""
}

// Locked returns the names of all currently locked axes in sorted order.
func (l *LockTable) Locked() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.holders))
	for name := range l.holders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
