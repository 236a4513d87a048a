package driver

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// TranscriptHeader opens a recorded session.
type TranscriptHeader struct {
	Session string    `cbor:"1,keyasint"`
	Started time.Time `cbor:"2,keyasint"`
	FD      int       `cbor:"3,keyasint"`
}

// Exchange is one recorded BINDER_WRITE_READ. Write and Read hold only the
// consumed and produced bytes.
type Exchange struct {
	Seq   uint64 `cbor:"1,keyasint"`
	At    int64  `cbor:"2,keyasint"`
	Write []byte `cbor:"3,keyasint,omitempty"`
	Read  []byte `cbor:"4,keyasint,omitempty"`
	Err   string `cbor:"5,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("driver: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("driver: CBOR decoder initialization failed: " + err.Error())
	}
}

// Recorder wraps a Driver and appends every exchange to a zstd-compressed
// CBOR stream.
type Recorder struct {
	inner Driver

	mu  sync.Mutex
	zw  *zstd.Encoder
	enc *cbor.Encoder
	seq uint64
	err error
}

func NewRecorder(inner Driver, w io.Writer) (*Recorder, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("transcript writer: %w", err)
	}
	r := &Recorder{inner: inner, zw: zw, enc: encMode.NewEncoder(zw)}
	hdr := TranscriptHeader{Session: uuid.NewString(), Started: time.Now().UTC(), FD: inner.FD()}
	if err := r.enc.Encode(hdr); err != nil {
		zw.Close()
		return nil, fmt.Errorf("transcript header: %w", err)
	}
	return r, nil
}

func (r *Recorder) FD() int                            { return r.inner.FD() }
func (r *Recorder) Pin(buf []byte) (uint64, func())    { return r.inner.Pin(buf) }
func (r *Recorder) Region(addr uint64) ([]byte, error) { return r.inner.Region(addr) }

// BecomeContextManager forwards to the wrapped driver when it is a device.
func (r *Recorder) BecomeContextManager() error {
	if cm, ok := r.inner.(interface{ BecomeContextManager() error }); ok {
		return cm.BecomeContextManager()
	}
	return nil
}

func (r *Recorder) WriteRead(write, read []byte) (int, int, error) {
	wc, rc, err := r.inner.WriteRead(write, read)

	ex := Exchange{At: time.Now().UnixNano()}
	if wc > 0 && wc <= len(write) {
		ex.Write = slices.Clone(write[:wc])
	}
	if rc > 0 && rc <= len(read) {
		ex.Read = slices.Clone(read[:rc])
	}
	if err != nil {
		ex.Err = err.Error()
	}

	r.mu.Lock()
	r.seq++
	ex.Seq = r.seq
	if r.err == nil {
		r.err = r.enc.Encode(ex)
	}
	r.mu.Unlock()
	return wc, rc, err
}

// Close flushes the stream. It does not close the wrapped driver.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cerr := r.zw.Close()
	if r.err != nil {
		return r.err
	}
	return cerr
}

// ReadTranscript decodes a stream written by Recorder.
func ReadTranscript(rd io.Reader) (TranscriptHeader, []Exchange, error) {
	zr, err := zstd.NewReader(rd)
	if err != nil {
		return TranscriptHeader{}, nil, fmt.Errorf("transcript reader: %w", err)
	}
	defer zr.Close()

	dec := decMode.NewDecoder(zr)
	var hdr TranscriptHeader
	if err := dec.Decode(&hdr); err != nil {
		return TranscriptHeader{}, nil, fmt.Errorf("transcript header: %w", err)
	}
	var out []Exchange
	for {
		var ex Exchange
		err := dec.Decode(&ex)
		if errors.Is(err, io.EOF) {
			return hdr, out, nil
		}
		if err != nil {
			return hdr, out, fmt.Errorf("transcript exchange %d: %w", len(out)+1, err)
		}
		out = append(out, ex)
	}
}
