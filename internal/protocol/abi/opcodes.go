package abi

import "fmt"

// Commands written by user space (BC_*).
const (
	BCTransaction              uint32 = iocWrite<<iocDirShift | SizeofTransactionData<<iocSizeShift | 'c'<<iocTypeShift | 0
	BCReply                    uint32 = iocWrite<<iocDirShift | SizeofTransactionData<<iocSizeShift | 'c'<<iocTypeShift | 1
	BCAcquireResult            uint32 = iocWrite<<iocDirShift | sizeofInt32<<iocSizeShift | 'c'<<iocTypeShift | 2
	BCFreeBuffer               uint32 = iocWrite<<iocDirShift | sizeofPtr<<iocSizeShift | 'c'<<iocTypeShift | 3
	BCIncRefs                  uint32 = iocWrite<<iocDirShift | sizeofInt32<<iocSizeShift | 'c'<<iocTypeShift | 4
	BCAcquire                  uint32 = iocWrite<<iocDirShift | sizeofInt32<<iocSizeShift | 'c'<<iocTypeShift | 5
	BCRelease                  uint32 = iocWrite<<iocDirShift | sizeofInt32<<iocSizeShift | 'c'<<iocTypeShift | 6
	BCDecRefs                  uint32 = iocWrite<<iocDirShift | sizeofInt32<<iocSizeShift | 'c'<<iocTypeShift | 7
	BCIncRefsDone              uint32 = iocWrite<<iocDirShift | SizeofPtrCookie<<iocSizeShift | 'c'<<iocTypeShift | 8
	BCAcquireDone              uint32 = iocWrite<<iocDirShift | SizeofPtrCookie<<iocSizeShift | 'c'<<iocTypeShift | 9
	BCAttemptAcquire           uint32 = iocWrite<<iocDirShift | SizeofPriDesc<<iocSizeShift | 'c'<<iocTypeShift | 10
	BCRegisterLooper           uint32 = iocNone<<iocDirShift | 'c'<<iocTypeShift | 11
	BCEnterLooper              uint32 = iocNone<<iocDirShift | 'c'<<iocTypeShift | 12
	BCExitLooper               uint32 = iocNone<<iocDirShift | 'c'<<iocTypeShift | 13
	BCRequestDeathNotification uint32 = iocWrite<<iocDirShift | SizeofHandleCookie<<iocSizeShift | 'c'<<iocTypeShift | 14
	BCClearDeathNotification   uint32 = iocWrite<<iocDirShift | SizeofHandleCookie<<iocSizeShift | 'c'<<iocTypeShift | 15
	BCDeadBinderDone           uint32 = iocWrite<<iocDirShift | sizeofPtr<<iocSizeShift | 'c'<<iocTypeShift | 16
)

// Returns read back from the driver (BR_*).
const (
	BRError                      uint32 = iocRead<<iocDirShift | sizeofInt32<<iocSizeShift | 'r'<<iocTypeShift | 0
	BROk                         uint32 = iocNone<<iocDirShift | 'r'<<iocTypeShift | 1
	BRTransactionSecCtx          uint32 = iocRead<<iocDirShift | SizeofTransactionDataSecctx<<iocSizeShift | 'r'<<iocTypeShift | 2
	BRTransaction                uint32 = iocRead<<iocDirShift | SizeofTransactionData<<iocSizeShift | 'r'<<iocTypeShift | 2
	BRReply                      uint32 = iocRead<<iocDirShift | SizeofTransactionData<<iocSizeShift | 'r'<<iocTypeShift | 3
	BRAcquireResult              uint32 = iocRead<<iocDirShift | sizeofInt32<<iocSizeShift | 'r'<<iocTypeShift | 4
	BRDeadReply                  uint32 = iocNone<<iocDirShift | 'r'<<iocTypeShift | 5
	BRTransactionComplete        uint32 = iocNone<<iocDirShift | 'r'<<iocTypeShift | 6
	BRIncRefs                    uint32 = iocRead<<iocDirShift | SizeofPtrCookie<<iocSizeShift | 'r'<<iocTypeShift | 7
	BRAcquire                    uint32 = iocRead<<iocDirShift | SizeofPtrCookie<<iocSizeShift | 'r'<<iocTypeShift | 8
	BRRelease                    uint32 = iocRead<<iocDirShift | SizeofPtrCookie<<iocSizeShift | 'r'<<iocTypeShift | 9
	BRDecRefs                    uint32 = iocRead<<iocDirShift | SizeofPtrCookie<<iocSizeShift | 'r'<<iocTypeShift | 10
	BRAttemptAcquire             uint32 = iocRead<<iocDirShift | SizeofPriPtrCookie<<iocSizeShift | 'r'<<iocTypeShift | 11
	BRNoop                       uint32 = iocNone<<iocDirShift | 'r'<<iocTypeShift | 12
	BRSpawnLooper                uint32 = iocNone<<iocDirShift | 'r'<<iocTypeShift | 13
	BRFinished                   uint32 = iocNone<<iocDirShift | 'r'<<iocTypeShift | 14
	BRDeadBinder                 uint32 = iocRead<<iocDirShift | sizeofPtr<<iocSizeShift | 'r'<<iocTypeShift | 15
	BRClearDeathNotificationDone uint32 = iocRead<<iocDirShift | sizeofPtr<<iocSizeShift | 'r'<<iocTypeShift | 16
	BRFailedReply                uint32 = iocNone<<iocDirShift | 'r'<<iocTypeShift | 17
	BRFrozenReply                uint32 = iocNone<<iocDirShift | 'r'<<iocTypeShift | 18
	BROnewaySpamSuspect          uint32 = iocNone<<iocDirShift | 'r'<<iocTypeShift | 19
	BRTransactionPendingFrozen   uint32 = iocNone<<iocDirShift | 'r'<<iocTypeShift | 20
)

// Transaction flags (binder_transaction_data.flags).
const (
	TFOneWay     uint32 = 0x01
	TFRootObject uint32 = 0x04
	TFStatusCode uint32 = 0x08
	TFAcceptFDs  uint32 = 0x10
	TFClearBuf   uint32 = 0x20
	TFUpdateTxn  uint32 = 0x40
)

var opcodeNames = map[uint32]string{
	BCTransaction:              "BC_TRANSACTION",
	BCReply:                    "BC_REPLY",
	BCAcquireResult:            "BC_ACQUIRE_RESULT",
	BCFreeBuffer:               "BC_FREE_BUFFER",
	BCIncRefs:                  "BC_INCREFS",
	BCAcquire:                  "BC_ACQUIRE",
	BCRelease:                  "BC_RELEASE",
	BCDecRefs:                  "BC_DECREFS",
	BCIncRefsDone:              "BC_INCREFS_DONE",
	BCAcquireDone:              "BC_ACQUIRE_DONE",
	BCAttemptAcquire:           "BC_ATTEMPT_ACQUIRE",
	BCRegisterLooper:           "BC_REGISTER_LOOPER",
	BCEnterLooper:              "BC_ENTER_LOOPER",
	BCExitLooper:               "BC_EXIT_LOOPER",
	BCRequestDeathNotification: "BC_REQUEST_DEATH_NOTIFICATION",
	BCClearDeathNotification:   "BC_CLEAR_DEATH_NOTIFICATION",
	BCDeadBinderDone:           "BC_DEAD_BINDER_DONE",

	BRError:                      "BR_ERROR",
	BROk:                         "BR_OK",
	BRTransactionSecCtx:          "BR_TRANSACTION_SEC_CTX",
	BRTransaction:                "BR_TRANSACTION",
	BRReply:                      "BR_REPLY",
	BRAcquireResult:              "BR_ACQUIRE_RESULT",
	BRDeadReply:                  "BR_DEAD_REPLY",
	BRTransactionComplete:        "BR_TRANSACTION_COMPLETE",
	BRIncRefs:                    "BR_INCREFS",
	BRAcquire:                    "BR_ACQUIRE",
	BRRelease:                    "BR_RELEASE",
	BRDecRefs:                    "BR_DECREFS",
	BRAttemptAcquire:             "BR_ATTEMPT_ACQUIRE",
	BRNoop:                       "BR_NOOP",
	BRSpawnLooper:                "BR_SPAWN_LOOPER",
	BRFinished:                   "BR_FINISHED",
	BRDeadBinder:                 "BR_DEAD_BINDER",
	BRClearDeathNotificationDone: "BR_CLEAR_DEATH_NOTIFICATION_DONE",
	BRFailedReply:                "BR_FAILED_REPLY",
	BRFrozenReply:                "BR_FROZEN_REPLY",
	BROnewaySpamSuspect:          "BR_ONEWAY_SPAM_SUSPECT",
	BRTransactionPendingFrozen:   "BR_TRANSACTION_PENDING_FROZEN",
}

// OpcodeName returns the driver name of a BC_/BR_ opcode.
func OpcodeName(code uint32) string {
	if name, ok := opcodeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%#x)", code)
}
