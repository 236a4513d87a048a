package thread

import (
	"bytes"
	"time"

	"github.com/danmuck/binderctl/internal/binder"
	"github.com/danmuck/binderctl/internal/observability"
	"github.com/danmuck/binderctl/internal/protocol/abi"
)

// executeCommand handles every return command that is not part of a
// pending call's response.
func (t *State) executeCommand(cmd uint32, payload []byte) error {
	switch cmd {
	case abi.BRError:
		return binder.StatusCode(int32(order.Uint32(payload)))
	case abi.BROk, abi.BRNoop:
		return nil
	case abi.BRTransaction, abi.BRTransactionSecCtx:
		return t.executeTransaction(cmd, payload)

	case abi.BRIncRefs:
		pc, err := readPtrCookie(payload)
		if err != nil {
			return err
		}
		if err := t.proc.Objects().IncWeak(pc.Cookie); err != nil {
			t.log.Error().Err(err).Uint64("object", pc.Cookie).Msg("BR_INCREFS")
		}
		t.writeCommand(abi.BCIncRefsDone, payload)
	case abi.BRAcquire:
		pc, err := readPtrCookie(payload)
		if err != nil {
			return err
		}
		if err := t.proc.Objects().IncStrong(pc.Cookie); err != nil {
			t.log.Error().Err(err).Uint64("object", pc.Cookie).Msg("BR_ACQUIRE")
		}
		t.writeCommand(abi.BCAcquireDone, payload)
	case abi.BRRelease:
		pc, err := readPtrCookie(payload)
		if err != nil {
			return err
		}
		t.pendingStrong = append(t.pendingStrong, pc.Cookie)
	case abi.BRDecRefs:
		pc, err := readPtrCookie(payload)
		if err != nil {
			return err
		}
		t.pendingWeak = append(t.pendingWeak, pc.Cookie)
	case abi.BRAttemptAcquire:
		var ppc abi.PriPtrCookie
		if _, err := ppc.UnmarshalBytes(payload); err != nil {
			return err
		}
		var result int32
		if t.proc.Objects().AttemptIncStrong(ppc.Cookie) {
			result = 1
		}
		t.writeCommand(abi.BCAcquireResult, order.AppendUint32(nil, uint32(result)))

	case abi.BRDeadBinder:
		cookie := order.Uint64(payload)
		t.proc.SendObituary(t, cookie)
		t.writeCommand(abi.BCDeadBinderDone, payload)
	case abi.BRClearDeathNotificationDone:
		t.proc.ClearDeathNotificationDone(order.Uint64(payload))

	case abi.BRFinished:
		return binder.TimedOut
	case abi.BRSpawnLooper:
		t.proc.SpawnLooper()
	default:
		t.log.Error().Str("cmd", abi.OpcodeName(cmd)).Msg("unexpected command")
		return binder.UnknownError
	}
	return nil
}

func readPtrCookie(payload []byte) (abi.PtrCookie, error) {
	var pc abi.PtrCookie
	_, err := pc.UnmarshalBytes(payload)
	return pc, err
}

// executeTransaction services one inbound transaction on this thread. The
// caller identity is installed for the duration of the dispatch and the
// previous one restored afterwards, so nested calls unwind correctly.
func (t *State) executeTransaction(cmd uint32, payload []byte) error {
	start := time.Now()
	var (
		tr  abi.TransactionData
		sid string
	)
	if cmd == abi.BRTransactionSecCtx {
		var sec abi.TransactionDataSecctx
		if _, err := sec.UnmarshalBytes(payload); err != nil {
			return err
		}
		tr = sec.TransactionData
		sid = t.readSecctx(sec.Secctx)
	} else if _, err := tr.UnmarshalBytes(payload); err != nil {
		return err
	}

	buf, err := t.borrow(&tr)
	if err != nil {
		return err
	}

	saved := t.current
	savedPolicy := t.strictPolicy
	t.current = callState{
		pid:        tr.SenderPID,
		uid:        tr.SenderEUID,
		sid:        sid,
		flags:      tr.Flags,
		workSource: binder.UnsetWorkSource,
	}

	reply := binder.NewParcelWithResolver(t.proc)
	var target binder.Remotable
	if tr.Target != 0 {
		if local, ok := t.proc.Objects().Lookup(tr.Cookie); ok {
			target = local.Service()
		}
	} else {
		target = t.proc.ContextManager()
	}

	var dispatchErr error
	if target == nil {
		dispatchErr = binder.UnknownTransaction
	} else {
		dispatchErr = binder.Dispatch(target, t, tr.Code, buf, reply)
	}

	oneway := tr.Flags&abi.TFOneWay != 0
	var sendErr error
	if !oneway {
		sendErr = t.sendReply(reply, tr.Flags&abi.TFClearBuf, dispatchErr)
	}
	buf.Recycle()

	t.current = saved
	t.strictPolicy = savedPolicy

	observability.LogTransaction(t.log, observability.Inbound, tr.Handle(), tr.Code, oneway, start, dispatchErr)
	return sendErr
}

// sendReply answers the transaction being serviced. Exceptions travel in
// the reply body; any other failure is sent as a bare status code.
func (t *State) sendReply(reply *binder.Parcel, flags uint32, dispatchErr error) error {
	if dispatchErr != nil {
		if st, ok := binder.AsException(dispatchErr); ok {
			reply.Reset()
			dispatchErr = binder.WriteStatus(reply, st)
		}
	}
	if dispatchErr != nil {
		status := binder.StatusFromError(dispatchErr)
		buf := binder.ParcelFromBytes(order.AppendUint32(nil, uint32(status)))
		t.writeTransactionData(abi.BCReply, flags|abi.TFStatusCode, replyTarget, 0, buf)
	} else {
		t.writeTransactionData(abi.BCReply, flags, replyTarget, 0, reply)
	}
	_, err := t.waitForResponse(untilComplete)
	return err
}

func (t *State) readSecctx(addr uint64) string {
	if addr == 0 {
		return ""
	}
	mem, err := t.drv.Region(addr)
	if err != nil {
		t.log.Warn().Err(err).Msg("security context outside driver memory")
		return ""
	}
	if i := bytes.IndexByte(mem, 0); i >= 0 {
		mem = mem[:i]
	}
	return string(mem)
}

// IncStrongHandle acquires a strong driver reference on handle. When the
// command cannot be flushed now, proxy is kept alive until it is.
func (t *State) IncStrongHandle(handle uint32, proxy *binder.Remote) error {
	t.writeHandleCommand(abi.BCAcquire, handle)
	flushed, err := t.flushIfNeeded()
	if !flushed {
		t.postStrong = append(t.postStrong, proxy)
	}
	return err
}

func (t *State) DecStrongHandle(handle uint32) error {
	t.writeHandleCommand(abi.BCRelease, handle)
	_, err := t.flushIfNeeded()
	return err
}

func (t *State) IncWeakHandle(handle uint32, proxy *binder.Remote) error {
	t.writeHandleCommand(abi.BCIncRefs, handle)
	flushed, err := t.flushIfNeeded()
	if !flushed {
		t.postWeak = append(t.postWeak, proxy)
	}
	return err
}

func (t *State) DecWeakHandle(handle uint32) error {
	t.writeHandleCommand(abi.BCDecRefs, handle)
	_, err := t.flushIfNeeded()
	return err
}

// AttemptIncStrongHandle asks the driver to upgrade a weak reference and
// waits for the verdict.
func (t *State) AttemptIncStrongHandle(handle uint32) error {
	// binder_pri_desc: priority, then the handle
	desc := order.AppendUint32(make([]byte, 4), handle)
	t.writeCommand(abi.BCAttemptAcquire, desc)
	_, err := t.waitForResponse(untilAcquireResult)
	return err
}

func (t *State) RequestDeathNotification(handle uint32, cookie uint64) error {
	t.writeHandleCookie(abi.BCRequestDeathNotification, handle, cookie)
	_, err := t.flushIfNeeded()
	return err
}

func (t *State) ClearDeathNotification(handle uint32, cookie uint64) error {
	t.writeHandleCookie(abi.BCClearDeathNotification, handle, cookie)
	_, err := t.flushIfNeeded()
	return err
}

func (t *State) writeHandleCookie(code, handle uint32, cookie uint64) {
	hc := abi.HandleCookie{Handle: handle, Cookie: cookie}
	payload := make([]byte, abi.SizeofHandleCookie)
	hc.MarshalBytes(payload)
	t.writeCommand(code, payload)
}
