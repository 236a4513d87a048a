package binder

import (
	"math"
	"unicode"
	"unicode/utf16"
)

// WriteString writes s as a UTF-16 string: unit count, units, a zero unit,
// then padding.
func (p *Parcel) WriteString(s string) error {
	return p.WriteString16(utf16.Encode([]rune(s)))
}

// WriteNullableString writes -1 for nil.
func (p *Parcel) WriteNullableString(s *string) error {
	if s == nil {
		return p.WriteInt32(-1)
	}
	return p.WriteString(*s)
}

// WriteString16 writes pre-encoded UTF-16 units.
func (p *Parcel) WriteString16(units []uint16) error {
	if len(units) >= math.MaxInt32 {
		return BadValue
	}
	if err := p.WriteInt32(int32(len(units))); err != nil {
		return err
	}
	buf := p.slot((len(units) + 1) * 2)
	for i, u := range units {
		order.PutUint16(buf[i*2:], u)
	}
	order.PutUint16(buf[len(units)*2:], 0)
	return nil
}

func (p *Parcel) ReadString() (string, error) {
	s, err := p.ReadNullableString()
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", UnexpectedNull
	}
	return *s, nil
}

// ReadNullableString returns nil for the -1 sentinel.
func (p *Parcel) ReadNullableString() (*string, error) {
	units, err := p.ReadString16()
	if err != nil || units == nil {
		return nil, err
	}
	s, err := decodeUTF16(units)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ReadString16 returns the raw units, or nil for the -1 sentinel.
func (p *Parcel) ReadString16() ([]uint16, error) {
	start := p.pos
	n, err := p.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}
	if n < 0 || n == math.MaxInt32 {
		p.pos = start
		return nil, BadValue
	}
	raw, err := p.take((int(n) + 1) * 2)
	if err != nil {
		p.pos = start
		return nil, err
	}
	if order.Uint16(raw[int(n)*2:]) != 0 {
		p.pos = start
		return nil, BadValue
	}
	units := make([]uint16, n)
	for i := range units {
		units[i] = order.Uint16(raw[i*2:])
	}
	return units, nil
}

func decodeUTF16(units []uint16) (string, error) {
	runes := make([]rune, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := rune(units[i])
		switch {
		case !utf16.IsSurrogate(u):
			runes = append(runes, u)
		case u < 0xdc00 && i+1 < len(units):
			r := utf16.DecodeRune(u, rune(units[i+1]))
			if r == unicode.ReplacementChar {
				return "", BadValue
			}
			runes = append(runes, r)
			i++
		default:
			return "", BadValue
		}
	}
	return string(runes), nil
}
