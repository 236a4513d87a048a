package binder

// Sequences carry an i32 element count; -1 marks an absent sequence and any
// other negative count is malformed.

func (p *Parcel) readCount() (n int, present bool, err error) {
	start := p.pos
	c, err := p.ReadInt32()
	if err != nil {
		return 0, false, err
	}
	if c == -1 {
		return 0, false, nil
	}
	if c < 0 {
		p.pos = start
		return 0, false, BadValue
	}
	if int(c) > p.DataAvail() {
		p.pos = start
		return 0, false, NotEnoughData
	}
	return int(c), true, nil
}

func WriteSlice[T Writable](p *Parcel, items []T) error {
	if err := p.WriteInt32(int32(len(items))); err != nil {
		return err
	}
	for _, item := range items {
		if err := item.WriteToParcel(p); err != nil {
			return err
		}
	}
	return nil
}

// WriteNullableSlice writes -1 for a nil slice.
func WriteNullableSlice[T Writable](p *Parcel, items []T) error {
	if items == nil {
		return p.WriteInt32(-1)
	}
	return WriteSlice(p, items)
}

func ReadSlice[T any, PT interface {
	*T
	Readable
}](p *Parcel) ([]T, error) {
	out, err := ReadNullableSlice[T, PT](p)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, UnexpectedNull
	}
	return out, nil
}

func ReadNullableSlice[T any, PT interface {
	*T
	Readable
}](p *Parcel) ([]T, error) {
	n, present, err := p.readCount()
	if err != nil || !present {
		return nil, err
	}
	out := make([]T, n)
	for i := range out {
		if err := PT(&out[i]).ReadFromParcel(p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// WriteScalarSlice encodes each element with its own widened scalar form.
func WriteScalarSlice[T Scalar](p *Parcel, items []T) error {
	if err := p.WriteInt32(int32(len(items))); err != nil {
		return err
	}
	for _, v := range items {
		if err := WriteScalar(p, v); err != nil {
			return err
		}
	}
	return nil
}

func WriteNullableScalarSlice[T Scalar](p *Parcel, items []T) error {
	if items == nil {
		return p.WriteInt32(-1)
	}
	return WriteScalarSlice(p, items)
}

func ReadScalarSlice[T Scalar](p *Parcel) ([]T, error) {
	out, err := ReadNullableScalarSlice[T](p)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, UnexpectedNull
	}
	return out, nil
}

func ReadNullableScalarSlice[T Scalar](p *Parcel) ([]T, error) {
	n, present, err := p.readCount()
	if err != nil || !present {
		return nil, err
	}
	out := make([]T, n)
	for i := range out {
		if out[i], err = ReadScalar[T](p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// WriteByteArray writes the packed byte[] form: count, raw bytes, padding.
func (p *Parcel) WriteByteArray(b []byte) error {
	if b == nil {
		return p.WriteInt32(-1)
	}
	if err := p.WriteInt32(int32(len(b))); err != nil {
		return err
	}
	return p.WriteAlignedData(b)
}

// ReadByteArray returns a copy of a packed byte[]; nil for -1.
func (p *Parcel) ReadByteArray() ([]byte, error) {
	n, present, err := p.readCount()
	if err != nil || !present {
		return nil, err
	}
	raw, err := p.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, raw)
	return out, nil
}

func (p *Parcel) WriteStringSlice(items []string) error {
	if err := p.WriteInt32(int32(len(items))); err != nil {
		return err
	}
	for _, s := range items {
		if err := p.WriteString(s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parcel) WriteNullableStringSlice(items []string) error {
	if items == nil {
		return p.WriteInt32(-1)
	}
	return p.WriteStringSlice(items)
}

func (p *Parcel) ReadStringSlice() ([]string, error) {
	out, err := p.ReadNullableStringSlice()
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, UnexpectedNull
	}
	return out, nil
}

func (p *Parcel) ReadNullableStringSlice() ([]string, error) {
	n, present, err := p.readCount()
	if err != nil || !present {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		if out[i], err = p.ReadString(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// WriteBinderSlice writes references; nil elements are written as null.
func (p *Parcel) WriteBinderSlice(items []Object) error {
	if err := p.WriteInt32(int32(len(items))); err != nil {
		return err
	}
	for _, obj := range items {
		if err := p.WriteNullableBinder(obj); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parcel) ReadBinderSlice() ([]Object, error) {
	n, present, err := p.readCount()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, UnexpectedNull
	}
	out := make([]Object, n)
	for i := range out {
		if out[i], err = p.ReadNullableBinder(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
