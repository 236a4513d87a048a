package binder

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknownObject = errors.New("binder: unknown local object")
	ErrRefUnderflow  = errors.New("binder: reference count underflow")
)

// ArenaError reports a reference operation the arena refused.
type ArenaError struct {
	Op  string
	ID  uint64
	Err error
}

func (e *ArenaError) Error() string {
	return fmt.Sprintf("binder: arena %s id=%d: %v", e.Op, e.ID, e.Err)
}

func (e *ArenaError) Unwrap() error { return e.Err }

type arenaEntry struct {
	local  *Local
	strong int32
	weak   int32
	pinned bool
}

// Arena holds the objects this process serves, keyed by the ids the driver
// uses in place of pointers. Counts mirror the driver's references and must
// be released exactly as often as they were acquired.
type Arena struct {
	mu      sync.Mutex
	next    uint64
	entries map[uint64]*arenaEntry
}

func NewArena() *Arena {
	return &Arena{entries: make(map[uint64]*arenaEntry)}
}

// Register publishes svc and pins it until Unpin. Ids start at 1; 0 is the
// null reference on the wire.
func (a *Arena) Register(svc Remotable) *Local {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	local := &Local{id: a.next, service: svc}
	a.entries[local.id] = &arenaEntry{local: local, pinned: true}
	return local
}

// Unpin drops the process's own hold. The entry disappears once the driver
// holds no references either.
func (a *Arena) Unpin(id uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[id]
	if !ok || !e.pinned {
		return &ArenaError{Op: "unpin", ID: id, Err: ErrUnknownObject}
	}
	e.pinned = false
	a.collect(id, e)
	return nil
}

func (a *Arena) Lookup(id uint64) (*Local, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[id]
	if !ok {
		return nil, false
	}
	return e.local, true
}

// Upgrade turns a weak id from the wire into a strong reference. It fails
// once neither the process nor the driver holds the object strongly.
func (a *Arena) Upgrade(id uint64) (*Local, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[id]
	if !ok || (!e.pinned && e.strong == 0) {
		return nil, &ArenaError{Op: "upgrade", ID: id, Err: DeadObject}
	}
	return e.local, nil
}

func (a *Arena) IncStrong(id uint64) error {
	return a.adjust("inc-strong", id, func(e *arenaEntry) error {
		e.strong++
		return nil
	})
}

func (a *Arena) DecStrong(id uint64) error {
	return a.adjust("dec-strong", id, func(e *arenaEntry) error {
		if e.strong == 0 {
			return ErrRefUnderflow
		}
		e.strong--
		return nil
	})
}

func (a *Arena) IncWeak(id uint64) error {
	return a.adjust("inc-weak", id, func(e *arenaEntry) error {
		e.weak++
		return nil
	})
}

func (a *Arena) DecWeak(id uint64) error {
	return a.adjust("dec-weak", id, func(e *arenaEntry) error {
		if e.weak == 0 {
			return ErrRefUnderflow
		}
		e.weak--
		return nil
	})
}

// AttemptIncStrong takes a strong reference if the object is still alive.
func (a *Arena) AttemptIncStrong(id uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[id]
	if !ok || (!e.pinned && e.strong == 0) {
		return false
	}
	e.strong++
	return true
}

// Counts reports the driver-held counts for id.
func (a *Arena) Counts(id uint64) (strong, weak int32, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[id]
	if !ok {
		return 0, 0, false
	}
	return e.strong, e.weak, true
}

func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func (a *Arena) adjust(op string, id uint64, fn func(*arenaEntry) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[id]
	if !ok {
		return &ArenaError{Op: op, ID: id, Err: ErrUnknownObject}
	}
	if err := fn(e); err != nil {
		return &ArenaError{Op: op, ID: id, Err: err}
	}
	a.collect(id, e)
	return nil
}

func (a *Arena) collect(id uint64, e *arenaEntry) {
	if !e.pinned && e.strong == 0 && e.weak == 0 {
		delete(a.entries, id)
	}
}
