package thread

import (
	"fmt"
	"strings"

	"github.com/danmuck/binderctl/internal/binder"
	"github.com/danmuck/binderctl/internal/driver"
)

// Process is the process-wide state a thread consults.
type Process interface {
	binder.ObjectResolver

	Driver() driver.Driver
	// ProxyForHandle returns the proxy for handle. A proxy entering the
	// table takes its weak and strong references on t.
	ProxyForHandle(t *State, handle uint32) (*binder.Remote, error)
	// ContextManager returns the object serving handle 0 in this process,
	// or nil.
	ContextManager() binder.Remotable
	CallRestriction() CallRestriction
	// SendObituary is called on the thread that received BR_DEAD_BINDER.
	SendObituary(t *State, cookie uint64)
	ClearDeathNotificationDone(cookie uint64)
	SpawnLooper()
}

// CallRestriction limits which outbound calls a process may make.
type CallRestriction int32

const (
	RestrictNone CallRestriction = iota
	RestrictErrorIfNotOneway
	RestrictFatalIfNotOneway
)

func (c CallRestriction) String() string {
	switch c {
	case RestrictNone:
		return "none"
	case RestrictErrorIfNotOneway:
		return "error_if_not_oneway"
	case RestrictFatalIfNotOneway:
		return "fatal_if_not_oneway"
	}
	return fmt.Sprintf("call_restriction(%d)", int32(c))
}

func ParseCallRestriction(raw string) (CallRestriction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return RestrictNone, nil
	case "error_if_not_oneway", "error":
		return RestrictErrorIfNotOneway, nil
	case "fatal_if_not_oneway", "fatal":
		return RestrictFatalIfNotOneway, nil
	}
	return RestrictNone, fmt.Errorf("unknown call restriction %q", raw)
}
