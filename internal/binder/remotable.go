package binder

import "github.com/danmuck/binderctl/internal/protocol/abi"

type TransactionCode = uint32
type TransactionFlags = uint32

const (
	FirstCallTransaction TransactionCode = 0x00000001
	LastCallTransaction  TransactionCode = 0x00ffffff

	PingTransaction         TransactionCode = '_'<<24 | 'P'<<16 | 'N'<<8 | 'G'
	DumpTransaction         TransactionCode = '_'<<24 | 'D'<<16 | 'M'<<8 | 'P'
	ShellCommandTransaction TransactionCode = '_'<<24 | 'C'<<16 | 'M'<<8 | 'D'
	InterfaceTransaction    TransactionCode = '_'<<24 | 'N'<<16 | 'T'<<8 | 'F'
	SyspropsTransaction     TransactionCode = '_'<<24 | 'S'<<16 | 'P'<<8 | 'R'
	ExtensionTransaction    TransactionCode = '_'<<24 | 'E'<<16 | 'X'<<8 | 'T'
	DebugPidTransaction     TransactionCode = '_'<<24 | 'P'<<16 | 'I'<<8 | 'D'
)

const (
	FlagOneway        TransactionFlags = abi.TFOneWay
	FlagClearBuf      TransactionFlags = abi.TFClearBuf
	FlagPrivateVendor TransactionFlags = 0x10000000
)

// InterfaceHeader opens every interface token ('SYST').
const InterfaceHeader uint32 = 'S'<<24 | 'Y'<<16 | 'S'<<8 | 'T'

// StrictModePenaltyGather is or'ed into the strict policy of every token.
const StrictModePenaltyGather int32 = 0x40 << 16

// UnsetWorkSource marks a token that carries no work source attribution.
const UnsetWorkSource int32 = -1

// CallContext is the view of the servicing thread handed to OnTransact.
type CallContext interface {
	CallingPid() int32
	CallingUid() uint32
	CallingSid() string
	IsOneway() bool
	// CheckInterface consumes and validates the interface token.
	CheckInterface(data *Parcel, descriptor string) error
}

// Remotable is an object serviced in this process.
type Remotable interface {
	Descriptor() string
	OnTransact(ctx CallContext, code TransactionCode, data, reply *Parcel) error
}

// Dispatch answers the transactions every object understands and routes the
// rest to OnTransact.
func Dispatch(r Remotable, ctx CallContext, code TransactionCode, data, reply *Parcel) error {
	switch code {
	case PingTransaction:
		return nil
	case InterfaceTransaction:
		return reply.WriteString(r.Descriptor())
	case DebugPidTransaction:
		return reply.WriteInt32(int32(selfPid()))
	}
	return r.OnTransact(ctx, code, data, reply)
}
