package thread

import (
	"fmt"

	"github.com/danmuck/binderctl/internal/binder"
)

// WriteInterfaceToken writes the header every generated proxy puts ahead
// of its arguments.
func (t *State) WriteInterfaceToken(p *binder.Parcel, descriptor string) error {
	if err := p.WriteInt32(t.strictPolicy | binder.StrictModePenaltyGather); err != nil {
		return err
	}
	ws := binder.UnsetWorkSource
	if t.ShouldPropagateWorkSource() {
		ws = t.CallingWorkSourceUid()
	}
	if err := p.WriteInt32(ws); err != nil {
		return err
	}
	if err := p.WriteUint32(binder.InterfaceHeader); err != nil {
		return err
	}
	return p.WriteString(descriptor)
}

// CheckInterface consumes an interface token and verifies that it names
// descriptor. The caller's strict policy and work source are adopted.
func (t *State) CheckInterface(data *binder.Parcel, descriptor string) error {
	policy, err := data.ReadInt32()
	if err != nil {
		return err
	}
	if t.IsOneway() {
		policy = 0
	}
	t.SetStrictModePolicy(policy)

	ws, err := data.ReadInt32()
	if err != nil {
		return err
	}
	t.setCallingWorkSourceUidWithoutPropagation(ws)

	header, err := data.ReadUint32()
	if err != nil {
		return err
	}
	if header != binder.InterfaceHeader {
		return binder.NewException(binder.ExceptionBadParcelable,
			fmt.Sprintf("expecting header %#x but found %#x", binder.InterfaceHeader, header))
	}

	actual, err := data.ReadString()
	if err != nil {
		return err
	}
	if actual != descriptor {
		return &binder.BadParcelableError{Expected: descriptor, Actual: actual}
	}
	return nil
}
