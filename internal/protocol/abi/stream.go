package abi

import (
	"errors"
	"fmt"
)

var ErrTruncatedStream = errors.New("abi: truncated command stream")

// Command is one opcode and its trailing record from a command or return
// stream.
type Command struct {
	Code    uint32
	Payload []byte
}

func (c Command) String() string {
	return fmt.Sprintf("%s[%d]", OpcodeName(c.Code), len(c.Payload))
}

// Walk splits a BC_ or BR_ stream into commands. Payload slices alias buf.
func Walk(buf []byte, fn func(Command) error) error {
	for len(buf) > 0 {
		if len(buf) < sizeofInt32 {
			return ErrTruncatedStream
		}
		code := order.Uint32(buf[0:4])
		n := PayloadSize(code)
		if len(buf) < sizeofInt32+n {
			return fmt.Errorf("%w: %s wants %d bytes", ErrTruncatedStream, OpcodeName(code), n)
		}
		if err := fn(Command{Code: code, Payload: buf[sizeofInt32 : sizeofInt32+n]}); err != nil {
			return err
		}
		buf = buf[sizeofInt32+n:]
	}
	return nil
}

// Commands collects Walk into a slice.
func Commands(buf []byte) ([]Command, error) {
	var out []Command
	err := Walk(buf, func(c Command) error {
		out = append(out, c)
		return nil
	})
	return out, err
}

// AppendCommand appends code and payload to a stream.
func AppendCommand(buf []byte, code uint32, payload []byte) []byte {
	buf = order.AppendUint32(buf, code)
	return append(buf, payload...)
}
