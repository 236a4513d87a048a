// Package abi owns the binder driver wire contract.
//
// Ownership boundary:
// - ioctl request numbers and protocol version
// - BC_* command and BR_* return opcodes
// - fixed-layout records exchanged with the driver
// - command stream walking for diagnostics
//
// Layouts follow the 64-bit kernel ABI. All multi-byte fields use host byte
// order.
package abi
