package motion

import "sync"

// Observer receives status events. Several observers may share one
// broadcaster, so implementations filter by axis name. Implementations must
// be comparable (pointer types) so they can be removed again.
type Observer interface {
	Update(ev StatusEvent)
}

// Broadcaster fans status events out to registered observers.
type Broadcaster struct {
	mu        sync.Mutex
	observers []Observer
}

// AddObserver registers o. Registering the same observer twice is a no-op.
func (b *Broadcaster) AddObserver(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.observers {
		if existing == o {
			return
		}
	}
	b.observers = append(b.observers, o)
}

// RemoveObserver deregisters o.
func (b *Broadcaster) RemoveObserver(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.observers {
		if existing == o {
			b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered observers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.observers)
}

// Notify delivers ev to a snapshot of the observers, so an observer may
// deregister itself from inside Update.
func (b *Broadcaster) Notify(ev StatusEvent) {
	b.mu.Lock()
	snapshot := make([]Observer, len(b.observers))
	copy(snapshot, b.observers)
	b.mu.Unlock()

	for _, o := range snapshot {
		o.Update(ev)
	}
}

// Watcher receives failures captured by background execution units whose
// caller has already returned.
type Watcher interface {
	MoveFailed(source string, err error)
}

// WatcherFunc adapts a function to the Watcher interface.
type WatcherFunc func(source string, err error)

// MoveFailed implements Watcher.
func (f WatcherFunc) MoveFailed(source string, err error) { f(source, err) }

// Watchers fans a failure out to several watchers.
type Watchers []Watcher

// MoveFailed implements Watcher.
func (ws Watchers) MoveFailed(source string, err error) {
	for _, w := range ws {
		if w != nil {
			w.MoveFailed(source, err)
		}
	}
}
