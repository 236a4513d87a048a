package binder

// Values other than strings and sequences mark absence with a leading i32:
// 1 when a value follows, 0 when none does.

func (p *Parcel) readMarker() (bool, error) {
	start := p.pos
	m, err := p.ReadInt32()
	if err != nil {
		return false, err
	}
	switch m {
	case NonNullMarker:
		return true, nil
	case NullMarker:
		return false, nil
	}
	p.pos = start
	return false, BadValue
}

func WriteNullable[T any, PT interface {
	*T
	Writable
}](p *Parcel, v *T) error {
	if v == nil {
		return p.WriteInt32(NullMarker)
	}
	if err := p.WriteInt32(NonNullMarker); err != nil {
		return err
	}
	return PT(v).WriteToParcel(p)
}

func ReadNullable[T any, PT interface {
	*T
	Readable
}](p *Parcel) (*T, error) {
	present, err := p.readMarker()
	if err != nil || !present {
		return nil, err
	}
	v := new(T)
	if err := PT(v).ReadFromParcel(p); err != nil {
		return nil, err
	}
	return v, nil
}

func WriteNullableScalar[T Scalar](p *Parcel, v *T) error {
	if v == nil {
		return p.WriteInt32(NullMarker)
	}
	if err := p.WriteInt32(NonNullMarker); err != nil {
		return err
	}
	return WriteScalar(p, *v)
}

func ReadNullableScalar[T Scalar](p *Parcel) (*T, error) {
	present, err := p.readMarker()
	if err != nil || !present {
		return nil, err
	}
	v, err := ReadScalar[T](p)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
