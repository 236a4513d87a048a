package thread

import (
	"errors"
	"os"

	"github.com/danmuck/binderctl/internal/binder"
	"github.com/danmuck/binderctl/internal/driver"
	"github.com/danmuck/binderctl/internal/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrDriverIO marks a failed exchange with the driver. The in-flight call
// cannot be completed.
var ErrDriverIO = errors.New("thread: driver exchange failed")

const readBufferSize = 256

// callState identifies the caller of the transaction being serviced.
type callState struct {
	pid        int32
	uid        uint32
	sid        string
	flags      uint32
	workSource int32
	propagate  bool
}

// State is the transaction state of one thread.
type State struct {
	id   uuid.UUID
	proc Process
	drv  driver.Driver
	log  zerolog.Logger
	// resolver takes handle references on this thread
	resolver binder.ObjectResolver

	in      *binder.Parcel
	out     *binder.Parcel
	readBuf []byte

	current      callState
	strictPolicy int32
	isLooper     bool
	isFlushing   bool

	// proxies kept alive until their refcount commands reach the driver
	postStrong []*binder.Remote
	postWeak   []*binder.Remote
	// local object ids whose release is deferred until the inbound stream
	// is drained
	pendingStrong []uint64
	pendingWeak   []uint64

	unpins []func()
}

func New(proc Process) *State {
	id := uuid.New()
	t := &State{
		id:      id,
		proc:    proc,
		drv:     proc.Driver(),
		log:     logging.With("thread").With().Str("thread", id.String()[:8]).Logger(),
		out:     binder.NewParcel(),
		readBuf: make([]byte, readBufferSize),
		current: selfIdentity(),
	}
	t.resolver = boundResolver{t}
	t.in = binder.NewParcelWithResolver(t.resolver)
	return t
}

// boundResolver resolves handles through the process table, issuing any
// reference commands on its thread.
type boundResolver struct{ t *State }

func (r boundResolver) StrongProxyForHandle(handle uint32) (*binder.Remote, error) {
	return r.t.proc.ProxyForHandle(r.t, handle)
}

func (r boundResolver) Objects() *binder.Arena { return r.t.proc.Objects() }

// Resolver returns the resolver parcels read on this thread should use.
func (t *State) Resolver() binder.ObjectResolver { return t.resolver }

func selfIdentity() callState {
	return callState{
		pid:        int32(os.Getpid()),
		uid:        uint32(os.Getuid()),
		workSource: binder.UnsetWorkSource,
	}
}

func (t *State) ID() uuid.UUID      { return t.id }
func (t *State) Process() Process   { return t.proc }
func (t *State) IsLooper() bool     { return t.isLooper }
func (t *State) CallingPid() int32  { return t.current.pid }
func (t *State) CallingUid() uint32 { return t.current.uid }
func (t *State) CallingSid() string { return t.current.sid }

// IsOneway reports whether the transaction being serviced expects no reply.
func (t *State) IsOneway() bool { return t.current.flags&binder.FlagOneway != 0 }

func (t *State) LastTransactionFlags() uint32 { return t.current.flags }

func (t *State) SetStrictModePolicy(policy int32) { t.strictPolicy = policy }
func (t *State) StrictModePolicy() int32          { return t.strictPolicy }

// Identity is a saved caller identity.
type Identity struct {
	pid int32
	uid uint32
	sid string
}

// ClearCallingIdentity makes later outbound calls and identity checks see
// this process as the caller. The returned Identity restores the original.
func (t *State) ClearCallingIdentity() Identity {
	saved := Identity{pid: t.current.pid, uid: t.current.uid, sid: t.current.sid}
	self := selfIdentity()
	t.current.pid = self.pid
	t.current.uid = self.uid
	t.current.sid = ""
	return saved
}

func (t *State) RestoreCallingIdentity(id Identity) {
	t.current.pid = id.pid
	t.current.uid = id.uid
	t.current.sid = id.sid
}

const workSourcePropagatedBit = 32

// SetCallingWorkSourceUid attributes later outbound calls to uid and marks
// the attribution for propagation. The token restores the previous value.
func (t *State) SetCallingWorkSourceUid(uid int32) int64 {
	token := t.setCallingWorkSourceUidWithoutPropagation(uid)
	t.current.propagate = true
	return token
}

func (t *State) setCallingWorkSourceUidWithoutPropagation(uid int32) int64 {
	var propagated int64
	if t.current.propagate {
		propagated = 1 << workSourcePropagatedBit
	}
	token := propagated | int64(uint32(t.current.workSource))
	t.current.workSource = uid
	return token
}

func (t *State) CallingWorkSourceUid() int32     { return t.current.workSource }
func (t *State) ShouldPropagateWorkSource() bool { return t.current.propagate }

func (t *State) ClearCallingWorkSource() int64 {
	return t.SetCallingWorkSourceUid(binder.UnsetWorkSource)
}

func (t *State) RestoreCallingWorkSource(token int64) {
	t.current.workSource = int32(uint32(token))
	t.current.propagate = token&(1<<workSourcePropagatedBit) != 0
}
