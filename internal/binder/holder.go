package binder

import "sync"

// ParcelableRegistry maps descriptors to constructors so a ParcelableHolder
// can materialize the value it carries without dynamic type recovery.
type ParcelableRegistry struct {
	mu        sync.RWMutex
	factories map[string]func() Parcelable
}

func NewParcelableRegistry() *ParcelableRegistry {
	return &ParcelableRegistry{factories: make(map[string]func() Parcelable)}
}

func (r *ParcelableRegistry) Register(descriptor string, factory func() Parcelable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[descriptor] = factory
}

func (r *ParcelableRegistry) New(descriptor string) (Parcelable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[descriptor]
	if !ok {
		return nil, false
	}
	return f(), true
}

// ParcelableHolder carries an extension parcelable. It holds either nothing,
// a typed value, or the still-encoded bytes read off the wire.
type ParcelableHolder struct {
	stability  Stability
	parcelable Parcelable
	name       string
	raw        *Parcel
}

func NewParcelableHolder(stability Stability) *ParcelableHolder {
	return &ParcelableHolder{stability: stability}
}

func (h *ParcelableHolder) Stability() Stability { return h.stability }

func (h *ParcelableHolder) IsEmpty() bool {
	return h.parcelable == nil && h.raw == nil
}

func (h *ParcelableHolder) Reset() {
	h.parcelable = nil
	h.name = ""
	h.raw = nil
}

// SetParcelable stores v. A value less stable than the holder is refused.
func (h *ParcelableHolder) SetParcelable(v Parcelable) error {
	if v == nil {
		h.Reset()
		return nil
	}
	if h.stability > stabilityOf(v) {
		return BadValue
	}
	h.parcelable = v
	h.name = v.Descriptor()
	h.raw = nil
	return nil
}

// Descriptor names the carried value, decoding it from raw bytes if needed.
func (h *ParcelableHolder) Descriptor() (string, error) {
	if h.parcelable != nil {
		return h.name, nil
	}
	if h.raw == nil {
		return "", nil
	}
	if err := h.raw.SetDataPosition(0); err != nil {
		return "", err
	}
	return h.raw.ReadString()
}

// Parcelable returns the carried value if it has the given descriptor. Raw
// contents are decoded through registry and cached. An empty holder returns
// nil with no error.
func (h *ParcelableHolder) Parcelable(registry *ParcelableRegistry, descriptor string) (Parcelable, error) {
	if h.parcelable != nil {
		if h.name != descriptor {
			return nil, BadValue
		}
		return h.parcelable, nil
	}
	if h.raw == nil {
		return nil, nil
	}
	name, err := h.Descriptor()
	if err != nil {
		return nil, err
	}
	if name != descriptor {
		return nil, BadValue
	}
	v, ok := registry.New(name)
	if !ok {
		return nil, NameNotFound
	}
	if err := v.ReadFromParcel(h.raw); err != nil {
		return nil, err
	}
	h.parcelable = v
	h.name = name
	h.raw = nil
	return v, nil
}

func (h *ParcelableHolder) WriteToParcel(p *Parcel) error {
	if err := p.WriteInt32(int32(h.stability)); err != nil {
		return err
	}
	switch {
	case h.parcelable != nil:
		sizePos := p.DataPosition()
		if err := p.WriteInt32(0); err != nil {
			return err
		}
		start := p.DataPosition()
		if err := p.WriteString(h.name); err != nil {
			return err
		}
		if err := h.parcelable.WriteToParcel(p); err != nil {
			return err
		}
		end := p.DataPosition()
		if err := p.SetDataPosition(sizePos); err != nil {
			return err
		}
		if err := p.WriteInt32(int32(end - start)); err != nil {
			return err
		}
		return p.SetDataPosition(end)
	case h.raw != nil:
		if err := p.WriteInt32(int32(h.raw.DataSize())); err != nil {
			return err
		}
		return p.AppendFrom(h.raw, 0, h.raw.DataSize())
	default:
		return p.WriteInt32(0)
	}
}

func (h *ParcelableHolder) ReadFromParcel(p *Parcel) error {
	st, err := p.ReadInt32()
	if err != nil {
		return err
	}
	if Stability(st) != h.stability {
		return BadValue
	}
	h.Reset()
	size, err := p.ReadInt32()
	if err != nil {
		return err
	}
	if size < 0 {
		return BadValue
	}
	if size == 0 {
		return nil
	}
	start := p.DataPosition()
	raw := NewParcelWithResolver(p.resolver)
	if err := raw.AppendFrom(p, start, int(size)); err != nil {
		return err
	}
	if err := raw.SetDataPosition(0); err != nil {
		return err
	}
	h.raw = raw
	return p.SetDataPosition(start + int(size))
}
