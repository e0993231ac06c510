// Package presence tracks which users currently hold an open, authenticated
// realtime connection. Entries are ephemeral: nothing here touches storage.
package presence

import "sync"

// Session is the connection handle bound to one authenticated user.
type Session interface {
	UserID() string
	Username() string
	Send(event string, payload interface{})
	Close()
}

// ChangeFunc observes register/unregister transitions so the owner can
// broadcast status changes to other connections.
type ChangeFunc func(userID, username string, online bool)

// Directory is a concurrency-safe user -> session mapping with
// last-connection-wins semantics.
type Directory struct {
	mu       sync.RWMutex
	sessions map[string]Session
	onChange ChangeFunc
}

func NewDirectory() *Directory {
	return &Directory{sessions: make(map[string]Session)}
}

// OnChange installs the observer invoked after every register/unregister.
// Must be called before the directory is shared between goroutines.
func (d *Directory) OnChange(fn ChangeFunc) {
	d.onChange = fn
}

// Register binds s as the user's current session, returning any session it
// replaced. A reconnect supersedes the stale handle without explicit cleanup.
func (d *Directory) Register(s Session) (replaced Session) {
	d.mu.Lock()
	replaced = d.sessions[s.UserID()]
	d.sessions[s.UserID()] = s
	d.mu.Unlock()

	if d.onChange != nil {
		d.onChange(s.UserID(), s.Username(), true)
	}
	return replaced
}

// Unregister removes the entry for s. If the user has already reconnected with
// a newer session the call is a no-op, so a stale disconnect never knocks a
// fresh session offline.
func (d *Directory) Unregister(s Session) (removed bool) {
	d.mu.Lock()
	if current, ok := d.sessions[s.UserID()]; ok && current == s {
		delete(d.sessions, s.UserID())
		removed = true
	}
	d.mu.Unlock()

	if removed && d.onChange != nil {
		d.onChange(s.UserID(), s.Username(), false)
	}
	return removed
}

// Lookup returns the user's current session, or nil when the user is offline.
func (d *Directory) Lookup(userID string) Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sessions[userID]
}

func (d *Directory) IsOnline(userID string) bool {
	return d.Lookup(userID) != nil
}

// ListOnline returns the ids of all currently connected users.
func (d *Directory) ListOnline() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.sessions))
	for id := range d.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Sessions returns a snapshot of all live sessions.
func (d *Directory) Sessions() []Session {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s)
	}
	return out
}
