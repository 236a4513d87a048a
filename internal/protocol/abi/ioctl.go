package abi

const (
	iocNrShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	iocSizeMask = 0x3fff

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

// ProtocolVersion is the only driver protocol this package speaks.
const ProtocolVersion int32 = 8

// Record sizes on the 64-bit ABI.
const (
	SizeofWriteRead             = 48
	SizeofTransactionData       = 64
	SizeofTransactionDataSecctx = 72
	SizeofFlatBinderObject      = 24
	SizeofPtrCookie             = 16
	SizeofPriPtrCookie          = 24
	SizeofHandleCookie          = 12
	SizeofPriDesc               = 8
	SizeofVersion               = 4

	sizeofInt32 = 4
	sizeofPtr   = 8
)

// ioctl requests understood by the binder device.
const (
	WriteRead       uint32 = (iocRead|iocWrite)<<iocDirShift | SizeofWriteRead<<iocSizeShift | 'b'<<iocTypeShift | 1
	SetIdleTimeout  uint32 = iocWrite<<iocDirShift | 8<<iocSizeShift | 'b'<<iocTypeShift | 3
	SetMaxThreads   uint32 = iocWrite<<iocDirShift | 4<<iocSizeShift | 'b'<<iocTypeShift | 5
	SetIdlePriority uint32 = iocWrite<<iocDirShift | 4<<iocSizeShift | 'b'<<iocTypeShift | 6
	SetContextMgr   uint32 = iocWrite<<iocDirShift | 4<<iocSizeShift | 'b'<<iocTypeShift | 7
	ThreadExit      uint32 = iocWrite<<iocDirShift | 4<<iocSizeShift | 'b'<<iocTypeShift | 8
	Version         uint32 = (iocRead|iocWrite)<<iocDirShift | SizeofVersion<<iocSizeShift | 'b'<<iocTypeShift | 9
)

// PayloadSize returns the size of the record that follows an opcode in a
// command or return stream. Opcodes carry it in their ioctl-style encoding.
func PayloadSize(code uint32) int {
	return int((code >> iocSizeShift) & iocSizeMask)
}
