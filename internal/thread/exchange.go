package thread

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"time"

	"github.com/danmuck/binderctl/internal/binder"
	"github.com/danmuck/binderctl/internal/driver"
	"github.com/danmuck/binderctl/internal/logging"
	"github.com/danmuck/binderctl/internal/observability"
	"github.com/danmuck/binderctl/internal/protocol/abi"
)

var order = binary.NativeEndian

// replyTarget is the handle written into BC_REPLY records.
const replyTarget = ^uint32(0)

type until int

const (
	untilReply until = iota
	untilComplete
	untilAcquireResult
)

// talkWithDriver performs one write/read exchange. Outbound commands are
// only written when no inbound data is pending, or when doReceive is false.
func (t *State) talkWithDriver(doReceive bool) error {
	if t.drv == nil || t.drv.FD() < 0 {
		return binder.BadFd
	}
	needRead := t.in.DataAvail() == 0
	outAvail := 0
	if !doReceive || needRead {
		outAvail = t.out.DataSize()
	}
	readSize := 0
	if doReceive && needRead {
		readSize = len(t.readBuf)
	}
	if outAvail == 0 && readSize == 0 {
		return nil
	}

	write := t.out.Bytes()[:outAvail]
	var (
		consumed, produced int
		err                error
	)
	for {
		consumed, produced, err = t.drv.WriteRead(write, t.readBuf[:readSize])
		if err == nil || !driver.Interrupted(err) {
			break
		}
		observability.RecordExchange("eintr", 0, 0)
	}
	if err != nil {
		observability.RecordExchange("error", consumed, 0)
		// the driver may have taken the commands before the read failed
		if outAvail > 0 && consumed == outAvail {
			t.commitWrite()
		}
		return fmt.Errorf("%w: %w", ErrDriverIO, err)
	}
	observability.RecordExchange("ok", consumed, produced)

	if consumed > 0 {
		if consumed < outAvail {
			logging.Panicf("thread: driver consumed %d of %d command bytes", consumed, outAvail)
		}
		t.commitWrite()
	}
	if produced > 0 {
		t.in = binder.ParcelFromBytes(t.readBuf[:produced])
		t.in.SetResolver(t.resolver)
	}
	return nil
}

// commitWrite drops commands the driver has fully consumed.
func (t *State) commitWrite() {
	t.out.Reset()
	t.releasePins()
	t.processPostWriteDerefs()
}

func (t *State) releasePins() {
	for _, unpin := range t.unpins {
		unpin()
	}
	t.unpins = t.unpins[:0]
}

func (t *State) processPostWriteDerefs() {
	clear(t.postStrong)
	clear(t.postWeak)
	t.postStrong = t.postStrong[:0]
	t.postWeak = t.postWeak[:0]
}

// processPendingDerefs applies releases the driver sent, once the inbound
// stream holding them has been fully handled.
func (t *State) processPendingDerefs() {
	if t.in.DataAvail() > 0 {
		return
	}
	objects := t.proc.Objects()
	for len(t.pendingWeak) > 0 || len(t.pendingStrong) > 0 {
		weak := t.pendingWeak
		t.pendingWeak = nil
		for _, id := range weak {
			if err := objects.DecWeak(id); err != nil {
				t.log.Error().Err(err).Uint64("object", id).Msg("deferred weak release")
			}
		}
		strong := t.pendingStrong
		t.pendingStrong = nil
		for _, id := range strong {
			if err := objects.DecStrong(id); err != nil {
				t.log.Error().Err(err).Uint64("object", id).Msg("deferred strong release")
			}
		}
	}
}

// nextCommand reads one return opcode and its record from the inbound
// stream.
func (t *State) nextCommand() (uint32, []byte, error) {
	cmd, err := t.in.ReadUint32()
	if err != nil {
		return 0, nil, err
	}
	payload, err := t.in.ReadAlignedData(abi.PayloadSize(cmd))
	if err != nil {
		return cmd, nil, fmt.Errorf("%s: %w", abi.OpcodeName(cmd), err)
	}
	observability.RecordCommand(abi.OpcodeName(cmd))
	return cmd, payload, nil
}

// waitForResponse leaves deferred releases queued; only the looper applies
// them, between commands.
func (t *State) waitForResponse(u until) (*binder.Parcel, error) {
	for {
		if err := t.talkWithDriver(true); err != nil {
			return nil, err
		}
		if t.in.DataAvail() == 0 {
			continue
		}
		cmd, payload, err := t.nextCommand()
		if err != nil {
			return nil, err
		}
		t.log.Trace().Str("cmd", abi.OpcodeName(cmd)).Msg("waitForResponse")

		switch cmd {
		case abi.BRTransactionComplete:
			if u == untilComplete {
				return nil, nil
			}
		case abi.BRDeadReply:
			return nil, binder.DeadObject
		case abi.BRFailedReply:
			return nil, binder.FailedTransaction
		case abi.BRFrozenReply:
			t.log.Warn().Msg("transaction failed: target process is frozen")
			return nil, binder.FailedTransaction
		case abi.BROnewaySpamSuspect:
			t.log.Error().Msg("process seems to be sending too many oneway calls")
			if u == untilComplete {
				return nil, nil
			}
		case abi.BRTransactionPendingFrozen:
			t.log.Warn().Msg("oneway transaction queued: target process is frozen")
			if u == untilComplete {
				return nil, nil
			}
		case abi.BRAcquireResult:
			result := int32(order.Uint32(payload))
			if u != untilAcquireResult {
				continue
			}
			if result == 0 {
				return nil, binder.InvalidOperation
			}
			return nil, nil
		case abi.BRReply:
			var tr abi.TransactionData
			if _, err := tr.UnmarshalBytes(payload); err != nil {
				return nil, err
			}
			buf, err := t.borrow(&tr)
			if err != nil {
				return nil, err
			}
			if u != untilReply {
				buf.Recycle()
				continue
			}
			if tr.Flags&abi.TFStatusCode != 0 {
				status, err := buf.ReadInt32()
				buf.Recycle()
				if err != nil {
					return nil, err
				}
				if status != 0 {
					return nil, binder.StatusCode(status)
				}
				return binder.NewParcelWithResolver(t.resolver), nil
			}
			return buf.Detach(), nil
		default:
			if err := t.executeCommand(cmd, payload); err != nil {
				return nil, err
			}
		}
	}
}

// borrow wraps the driver buffer a transaction record points at. The
// buffer goes back to the driver when the parcel is recycled.
func (t *State) borrow(tr *abi.TransactionData) (*binder.Parcel, error) {
	addr := tr.Buffer
	release := func() {
		if err := t.FreeBuffer(addr); err != nil {
			t.log.Error().Err(err).Uint64("buffer", addr).Msg("free buffer")
		}
	}
	data, err := driver.Resolve(t.drv, tr.Buffer, tr.DataSize)
	if err != nil {
		release()
		return nil, err
	}
	raw, err := driver.Resolve(t.drv, tr.Offsets, tr.OffsetsSize)
	if err != nil {
		release()
		return nil, err
	}
	objects, err := abi.DecodeOffsets(raw)
	if err != nil {
		release()
		return nil, err
	}
	if err := t.takeHandles(data, objects); err != nil {
		release()
		return nil, err
	}
	return binder.BorrowParcel(data, objects, t.resolver, release), nil
}

// takeHandles enters every handle a driver buffer carries into the process
// table. The buffer holds the driver's only reference to a handle it
// delivers, so the proxy's own references must be queued ahead of the
// BC_FREE_BUFFER that returns it.
func (t *State) takeHandles(data []byte, offsets []uint64) error {
	for _, off := range offsets {
		if off+abi.SizeofFlatBinderObject > uint64(len(data)) {
			return binder.BadValue
		}
		var obj abi.FlatBinderObject
		if _, err := obj.UnmarshalBytes(data[off:]); err != nil {
			return binder.BadValue
		}
		if obj.Type != abi.TypeHandle || obj.IsNull() {
			continue
		}
		if _, err := t.proc.ProxyForHandle(t, obj.Handle()); err != nil {
			return err
		}
	}
	return nil
}

func (t *State) writeCommand(code uint32, payload []byte) {
	_ = t.out.WriteUint32(code)
	if len(payload) > 0 {
		_ = t.out.Write(payload)
	}
}

func (t *State) writeHandleCommand(code, handle uint32) {
	t.writeCommand(code, order.AppendUint32(nil, handle))
}

// writeTransactionData queues a transaction or reply record. The data and
// offsets stay pinned until the driver has consumed the command.
func (t *State) writeTransactionData(cmd, flags, handle uint32, code binder.TransactionCode, data *binder.Parcel) {
	tr := abi.TransactionData{Code: code, Flags: flags}
	tr.SetHandle(handle)

	tr.DataSize = uint64(data.DataSize())
	addr, unpin := t.drv.Pin(data.Bytes())
	tr.Buffer = addr
	t.unpins = append(t.unpins, unpin)

	if objects := data.Objects(); len(objects) > 0 {
		raw := abi.EncodeOffsets(objects)
		addr, unpin := t.drv.Pin(raw)
		tr.Offsets = addr
		tr.OffsetsSize = uint64(len(raw))
		t.unpins = append(t.unpins, unpin)
	}
	t.writeCommand(cmd, tr.Bytes())
}

// Transact sends data to handle and, for two-way calls, returns the reply.
// One-way calls return a nil reply once the driver has accepted them.
func (t *State) Transact(handle uint32, code binder.TransactionCode, data *binder.Parcel, flags binder.TransactionFlags) (*binder.Parcel, error) {
	start := time.Now()
	flags |= abi.TFAcceptFDs
	oneway := flags&binder.FlagOneway != 0

	t.writeTransactionData(abi.BCTransaction, flags, handle, code, data)

	var (
		reply *binder.Parcel
		err   error
	)
	if oneway {
		_, err = t.waitForResponse(untilComplete)
	} else {
		switch t.proc.CallRestriction() {
		case RestrictErrorIfNotOneway:
			t.log.Error().Str("caller", callSite()).Uint32("code", code).
				Msg("process making non-oneway call but is restricted")
		case RestrictFatalIfNotOneway:
			logging.Panicf("thread: process may not make non-oneway calls (code: %d, caller: %s)", code, callSite())
		}
		reply, err = t.waitForResponse(untilReply)
	}
	observability.LogTransaction(t.log, observability.Outbound, handle, code, oneway, start, err)
	return reply, err
}

func callSite() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// FreeBuffer returns a transaction buffer to the driver.
func (t *State) FreeBuffer(addr uint64) error {
	t.writeCommand(abi.BCFreeBuffer, order.AppendUint64(nil, addr))
	_, err := t.flushIfNeeded()
	return err
}

// FlushCommands writes every queued command without reading.
func (t *State) FlushCommands() error {
	if err := t.talkWithDriver(false); err != nil {
		return err
	}
	if t.out.DataSize() > 0 {
		if err := t.talkWithDriver(false); err != nil {
			return err
		}
	}
	if t.out.DataSize() > 0 {
		t.log.Warn().Int("pending", t.out.DataSize()).Msg("commands left after flush")
	}
	return nil
}

// flushIfNeeded flushes unless a looper will flush on its next exchange or
// a flush is already running. It reports whether it flushed.
func (t *State) flushIfNeeded() (bool, error) {
	if t.isLooper || t.isFlushing {
		return false, nil
	}
	t.isFlushing = true
	err := t.FlushCommands()
	t.isFlushing = false
	return true, err
}
