package binder

import (
	"math"
	"testing"

	"github.com/danmuck/binderctl/internal/protocol/abi"
	"github.com/danmuck/binderctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

type point struct {
	X    int32
	Name string
}

func (pt *point) Descriptor() string { return "test.Point" }

func (pt *point) WriteToParcel(p *Parcel) error {
	if err := p.WriteInt32(pt.X); err != nil {
		return err
	}
	return p.WriteString(pt.Name)
}

func (pt *point) ReadFromParcel(p *Parcel) error {
	var err error
	if pt.X, err = p.ReadInt32(); err != nil {
		return err
	}
	pt.Name, err = p.ReadString()
	return err
}

type pointV2 struct {
	point
	Z int64
}

func (pt *pointV2) WriteToParcel(p *Parcel) error {
	if err := pt.point.WriteToParcel(p); err != nil {
		return err
	}
	return p.WriteInt64(pt.Z)
}

type fakeResolver struct {
	arena   *Arena
	remotes map[uint32]*Remote
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{arena: NewArena(), remotes: make(map[uint32]*Remote)}
}

func (r *fakeResolver) Objects() *Arena { return r.arena }

func (r *fakeResolver) StrongProxyForHandle(handle uint32) (*Remote, error) {
	if rem, ok := r.remotes[handle]; ok {
		return rem, nil
	}
	rem := NewRemote(handle)
	r.remotes[handle] = rem
	return rem, nil
}

type nopService struct{ name string }

func (s *nopService) Descriptor() string { return s.name }
func (s *nopService) OnTransact(CallContext, TransactionCode, *Parcel, *Parcel) error {
	return UnknownTransaction
}

func TestBoolTrueEncodesAsFourBytes(t *testing.T) {
	testlog.Start(t)

	p := NewParcel()
	require.NoError(t, p.WriteBool(true))
	require.Equal(t, 4, p.DataSize())
	require.Equal(t, uint32(1), order.Uint32(p.Bytes()))
}

func TestStringABLayout(t *testing.T) {
	testlog.Start(t)

	p := NewParcel()
	require.NoError(t, p.WriteString("AB"))
	require.Equal(t, 12, p.DataSize())

	b := p.Bytes()
	require.Equal(t, uint32(2), order.Uint32(b[0:4]))
	require.Equal(t, uint16('A'), order.Uint16(b[4:6]))
	require.Equal(t, uint16('B'), order.Uint16(b[6:8]))
	require.Equal(t, []byte{0, 0, 0, 0}, b[8:12])
}

func TestScalarRoundTripAndAlignment(t *testing.T) {
	testlog.Start(t)

	p := NewParcel()
	require.NoError(t, WriteScalar(p, int8(-3)))
	require.Zero(t, p.DataPosition()%4)
	require.NoError(t, WriteScalar(p, uint8(250)))
	require.NoError(t, WriteScalar(p, int16(-1234)))
	require.NoError(t, WriteScalar(p, uint16(65000)))
	require.NoError(t, p.WriteString("odd"))
	require.Zero(t, p.DataPosition()%4)
	require.NoError(t, WriteScalar(p, int64(math.MinInt64)))
	require.NoError(t, WriteScalar(p, uint64(math.MaxUint64)))
	require.NoError(t, WriteScalar(p, float32(1.5)))
	require.NoError(t, WriteScalar(p, 2.25))
	require.NoError(t, WriteScalar(p, false))
	require.NoError(t, p.WriteString(""))
	require.Zero(t, p.DataPosition()%4)
	require.Zero(t, p.DataSize()%4)

	require.NoError(t, p.SetDataPosition(0))
	i8, err := ReadScalar[int8](p)
	require.NoError(t, err)
	require.Equal(t, int8(-3), i8)
	u8, err := ReadScalar[uint8](p)
	require.NoError(t, err)
	require.Equal(t, uint8(250), u8)
	i16, err := ReadScalar[int16](p)
	require.NoError(t, err)
	require.Equal(t, int16(-1234), i16)
	u16, err := ReadScalar[uint16](p)
	require.NoError(t, err)
	require.Equal(t, uint16(65000), u16)
	s, err := p.ReadString()
	require.NoError(t, err)
	require.Equal(t, "odd", s)
	i64, err := ReadScalar[int64](p)
	require.NoError(t, err)
	require.Equal(t, int64(math.MinInt64), i64)
	u64, err := ReadScalar[uint64](p)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), u64)
	f32, err := ReadScalar[float32](p)
	require.NoError(t, err)
	require.Equal(t, float32(1.5), f32)
	f64, err := ReadScalar[float64](p)
	require.NoError(t, err)
	require.Equal(t, 2.25, f64)
	b, err := ReadScalar[bool](p)
	require.NoError(t, err)
	require.False(t, b)
	empty, err := p.ReadString()
	require.NoError(t, err)
	require.Equal(t, "", empty)
	require.Zero(t, p.DataAvail())

	_, err = p.ReadInt32()
	require.ErrorIs(t, err, NotEnoughData)
}

func TestStringSurrogatesRoundTrip(t *testing.T) {
	testlog.Start(t)

	p := NewParcel()
	in := "héllo 😀 wörld"
	require.NoError(t, p.WriteString(in))
	// the emoji expands to a surrogate pair
	require.Equal(t, uint32(14), order.Uint32(p.Bytes()))
	require.NoError(t, p.SetDataPosition(0))
	out, err := p.ReadString()
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestNullStringSentinel(t *testing.T) {
	testlog.Start(t)

	p := NewParcel()
	require.NoError(t, p.WriteNullableString(nil))
	require.NoError(t, p.SetDataPosition(0))
	s, err := p.ReadNullableString()
	require.NoError(t, err)
	require.Nil(t, s)

	require.NoError(t, p.SetDataPosition(0))
	_, err = p.ReadString()
	require.ErrorIs(t, err, UnexpectedNull)
}

func TestStringLengthOutOfRange(t *testing.T) {
	testlog.Start(t)

	for _, n := range []int32{-2, math.MaxInt32} {
		p := NewParcel()
		require.NoError(t, p.WriteInt32(n))
		require.NoError(t, p.SetDataPosition(0))
		_, err := p.ReadNullableString()
		require.ErrorIs(t, err, BadValue, "length %d", n)
	}

	p := NewParcel()
	require.NoError(t, p.WriteInt32(100))
	require.NoError(t, p.SetDataPosition(0))
	_, err := p.ReadString()
	require.ErrorIs(t, err, NotEnoughData)
}

func TestInvalidUTF16Rejected(t *testing.T) {
	testlog.Start(t)

	p := NewParcel()
	require.NoError(t, p.WriteString16([]uint16{'a', 0xdc00}))
	require.NoError(t, p.SetDataPosition(0))
	_, err := p.ReadString()
	require.ErrorIs(t, err, BadValue)
}

func TestSequenceNullEncoding(t *testing.T) {
	testlog.Start(t)

	p := NewParcel()
	require.NoError(t, WriteNullableScalarSlice[int32](p, nil))
	require.NoError(t, p.SetDataPosition(0))
	out, err := ReadNullableScalarSlice[int32](p)
	require.NoError(t, err)
	require.Nil(t, out)

	require.NoError(t, p.SetDataPosition(0))
	_, err = ReadScalarSlice[int32](p)
	require.ErrorIs(t, err, UnexpectedNull)

	for _, n := range []int32{-2, -100, math.MinInt32} {
		bad := NewParcel()
		require.NoError(t, bad.WriteInt32(n))
		require.NoError(t, bad.SetDataPosition(0))
		_, err := ReadNullableScalarSlice[int32](bad)
		require.ErrorIs(t, err, BadValue, "count %d", n)
	}
}

func TestSequenceRoundTrip(t *testing.T) {
	testlog.Start(t)

	p := NewParcel()
	require.NoError(t, WriteScalarSlice(p, []uint8{1, 2, 255}))
	require.NoError(t, WriteScalarSlice(p, []bool{true, false}))
	require.NoError(t, p.WriteStringSlice([]string{"a", "bc"}))
	require.NoError(t, p.WriteByteArray([]byte{9, 8, 7, 6, 5}))
	require.NoError(t, WriteSlice(p, []*point{{X: 1, Name: "one"}, {X: 2, Name: "two"}}))
	require.Zero(t, p.DataSize()%4)

	require.NoError(t, p.SetDataPosition(0))
	bytes, err := ReadScalarSlice[uint8](p)
	require.NoError(t, err)
	require.Equal(t, []uint8{1, 2, 255}, bytes)
	bools, err := ReadScalarSlice[bool](p)
	require.NoError(t, err)
	require.Equal(t, []bool{true, false}, bools)
	strs, err := p.ReadStringSlice()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "bc"}, strs)
	packed, err := p.ReadByteArray()
	require.NoError(t, err)
	require.Equal(t, []byte{9, 8, 7, 6, 5}, packed)
	points, err := ReadSlice[point](p)
	require.NoError(t, err)
	require.Equal(t, []point{{X: 1, Name: "one"}, {X: 2, Name: "two"}}, points)
}

func TestGenericNullableMarker(t *testing.T) {
	testlog.Start(t)

	p := NewParcel()
	require.NoError(t, WriteNullable[point](p, nil))
	require.NoError(t, WriteNullable(p, &point{X: 5, Name: "five"}))
	v := int64(7)
	require.NoError(t, WriteNullableScalar(p, &v))
	require.NoError(t, WriteNullableScalar[int64](p, nil))

	require.NoError(t, p.SetDataPosition(0))
	marker, err := p.ReadInt32()
	require.NoError(t, err)
	require.Equal(t, NullMarker, marker)

	require.NoError(t, p.SetDataPosition(0))
	absent, err := ReadNullable[point](p)
	require.NoError(t, err)
	require.Nil(t, absent)
	present, err := ReadNullable[point](p)
	require.NoError(t, err)
	require.Equal(t, &point{X: 5, Name: "five"}, present)
	got, err := ReadNullableScalar[int64](p)
	require.NoError(t, err)
	require.Equal(t, int64(7), *got)
	none, err := ReadNullableScalar[int64](p)
	require.NoError(t, err)
	require.Nil(t, none)

	bad := NewParcel()
	require.NoError(t, bad.WriteInt32(2))
	require.NoError(t, bad.SetDataPosition(0))
	_, err = ReadNullable[point](bad)
	require.ErrorIs(t, err, BadValue)
}

func TestBinderReferenceRoundTrip(t *testing.T) {
	testlog.Start(t)

	r := newFakeResolver()
	local := r.arena.Register(&nopService{name: "test.Local"})
	remote, _ := r.StrongProxyForHandle(9)

	p := NewParcelWithResolver(r)
	require.NoError(t, p.WriteBinder(local))
	require.NoError(t, p.WriteBinder(remote))
	require.NoError(t, p.WriteNullableBinder(nil))
	require.Len(t, p.Objects(), 2)
	require.Zero(t, p.DataSize()%4)

	require.NoError(t, p.SetDataPosition(0))
	got, err := p.ReadBinder()
	require.NoError(t, err)
	require.Same(t, local, got)
	got, err = p.ReadBinder()
	require.NoError(t, err)
	require.Same(t, remote, got)
	null, err := p.ReadNullableBinder()
	require.NoError(t, err)
	require.Nil(t, null)

	require.NoError(t, p.SetDataPosition(2*(abi.SizeofFlatBinderObject+4)))
	_, err = p.ReadBinder()
	require.ErrorIs(t, err, UnexpectedNull)
}

func TestBinderStabilityTag(t *testing.T) {
	testlog.Start(t)

	p := NewParcel()
	require.NoError(t, p.WriteBinder(NewRemote(3)))
	tag := order.Uint32(p.Bytes()[abi.SizeofFlatBinderObject:])
	require.Equal(t, uint32(StabilitySystem), tag)
}

func TestBinderUnknownWireTypeIsBadType(t *testing.T) {
	testlog.Start(t)

	p := NewParcelWithResolver(newFakeResolver())
	require.NoError(t, p.WriteObject(abi.FlatBinderObject{Type: abi.TypeFD, Binder: 4}))
	require.NoError(t, p.WriteInt32(int32(StabilitySystem)))
	require.NoError(t, p.SetDataPosition(0))
	_, err := p.ReadNullableBinder()
	require.ErrorIs(t, err, BadType)
}

func TestObjectOutsideOffsetListRejected(t *testing.T) {
	testlog.Start(t)

	src := NewParcel()
	require.NoError(t, src.WriteBinder(NewRemote(1)))
	forged := ParcelFromBytes(src.Bytes())
	forged.SetResolver(newFakeResolver())
	_, err := forged.ReadBinder()
	require.ErrorIs(t, err, BadValue)
}

func TestLocalUpgradeFailsAfterRelease(t *testing.T) {
	testlog.Start(t)

	r := newFakeResolver()
	local := r.arena.Register(&nopService{name: "test.Gone"})
	p := NewParcelWithResolver(r)
	require.NoError(t, p.WriteBinder(local))
	require.NoError(t, r.arena.Unpin(local.ID()))

	require.NoError(t, p.SetDataPosition(0))
	_, err := p.ReadBinder()
	require.ErrorIs(t, err, DeadObject)
}

func TestAppendFromBounds(t *testing.T) {
	testlog.Start(t)

	src := NewParcel()
	require.NoError(t, src.WriteInt32(1))
	require.NoError(t, src.WriteBinder(NewRemote(2)))

	dst := NewParcel()
	require.NoError(t, dst.WriteInt32(99))
	require.ErrorIs(t, dst.AppendFrom(src, 4, src.DataSize()), BadValue)
	require.ErrorIs(t, dst.AppendFrom(src, math.MaxInt, 8), BadValue)
	require.ErrorIs(t, dst.AppendFrom(src, -1, 4), BadValue)

	require.NoError(t, dst.AppendFrom(src, 4, src.DataSize()-4))
	require.Equal(t, []uint64{4}, dst.Objects())
	require.NoError(t, dst.SetDataPosition(4))
	dst.SetResolver(newFakeResolver())
	obj, err := dst.ReadBinder()
	require.NoError(t, err)
	require.Equal(t, uint32(2), obj.(*Remote).Handle())
}

func TestSetDataPositionBounds(t *testing.T) {
	testlog.Start(t)

	p := NewParcel()
	require.NoError(t, p.WriteInt64(1))
	require.ErrorIs(t, p.SetDataPosition(9), BadValue)
	require.ErrorIs(t, p.SetDataPosition(-1), BadValue)
	require.NoError(t, p.SetDataPosition(8))
}

func TestBorrowedParcelReleasesOnce(t *testing.T) {
	testlog.Start(t)

	released := 0
	mem := []byte{1, 0, 0, 0}
	p := BorrowParcel(mem, nil, nil, func() { released++ })
	require.True(t, p.IsBorrowed())

	p.Detach()
	require.Equal(t, 1, released)
	require.False(t, p.IsBorrowed())
	mem[0] = 7
	v, err := p.ReadInt32()
	require.NoError(t, err)
	require.Equal(t, int32(1), v)

	p.Recycle()
	p.Recycle()
	require.Equal(t, 1, released)
}

func TestParcelableSkipsUnknownTrailingFields(t *testing.T) {
	testlog.Start(t)

	p := NewParcel()
	require.NoError(t, WriteParcelable(p, &pointV2{point: point{X: 3, Name: "p"}, Z: 11}))
	require.NoError(t, p.WriteInt32(42))

	require.NoError(t, p.SetDataPosition(0))
	var old point
	require.NoError(t, ReadParcelable(p, &old))
	require.Equal(t, point{X: 3, Name: "p"}, old)
	next, err := p.ReadInt32()
	require.NoError(t, err)
	require.Equal(t, int32(42), next)
}

func TestParcelableBodyCannotOverrunSize(t *testing.T) {
	testlog.Start(t)

	p := NewParcel()
	require.NoError(t, p.WriteInt32(8))
	require.NoError(t, p.WriteInt32(1))
	require.NoError(t, p.WriteString("tail"))
	require.NoError(t, p.SetDataPosition(0))

	var pt point
	require.ErrorIs(t, ReadParcelable(p, &pt), NotEnoughData)
}

func TestUnionTagError(t *testing.T) {
	testlog.Start(t)

	err := error(&UnionTagError{Union: "test.Shape", Tag: 9})
	require.ErrorIs(t, err, BadValue)
	require.Contains(t, err.Error(), "unknown tag 9")
}

type color int32

const colorBlue color = 3

func TestEnumUsesBackingType(t *testing.T) {
	testlog.Start(t)

	p := NewParcel()
	require.NoError(t, WriteEnum32(p, colorBlue))
	require.Equal(t, 4, p.DataSize())
	require.NoError(t, p.SetDataPosition(0))
	c, err := ReadEnum32[color](p)
	require.NoError(t, err)
	require.Equal(t, colorBlue, c)
}
