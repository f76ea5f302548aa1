package points

import (
	"fmt"
	"log/slog"
	"sync"
)

// Observer receives a snapshot after every mutation or reconciliation.
// Observers run on the mutating goroutine after the engine lock is released.
// They may read the engine but must not call a mutating Engine method, which
// would wait on its own delivery.
type Observer func(BalanceSnapshot)

type observerEntry struct {
	id uint64
	fn Observer
}

// Notifier delivers snapshots to observers in registration order.
type Notifier struct {
	mu        sync.Mutex
	nextID    uint64
	observers []observerEntry
	log       *slog.Logger
}

func NewNotifier(log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{log: log}
}

// Subscribe registers fn and returns its de-registration handle. Calling the
// handle more than once is harmless.
func (n *Notifier) Subscribe(fn Observer) (unsubscribe func()) {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.observers = append(n.observers, observerEntry{id: id, fn: fn})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(id) })
	}
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, o := range n.observers {
		if o.id == id {
			n.observers = append(n.observers[:i:i], n.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered observers.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.observers)
}

// Clear drops every observer.
func (n *Notifier) Clear() {
	n.mu.Lock()
	n.observers = nil
	n.mu.Unlock()
}

// Notify hands snap to every observer. A panicking observer is logged and
// skipped; the rest still receive the snapshot.
func (n *Notifier) Notify(snap BalanceSnapshot) {
	n.mu.Lock()
	observers := make([]observerEntry, len(n.observers))
	copy(observers, n.observers)
	n.mu.Unlock()

	for _, o := range observers {
		if err := deliver(o.fn, snap); err != nil {
			n.log.Error("balance observer failed", "observer", o.id, "error", err)
		}
	}
}

func deliver(fn Observer, snap BalanceSnapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	fn(snap)
	return nil
}
