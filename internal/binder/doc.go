// Package binder owns the typed wire format carried inside transactions.
//
// Ownership boundary:
// - Parcel buffer, cursor and object offsets
// - scalar, string, sequence and nullable encodings
// - object references and the local object arena
// - parcelables, unions, enums and ParcelableHolder
// - status codes and exception replies
//
// Driver exchange lives in internal/thread; this package never talks to the
// device.
package binder
