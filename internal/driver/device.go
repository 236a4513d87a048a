package driver

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/danmuck/binderctl/internal/logging"
	"github.com/danmuck/binderctl/internal/protocol/abi"
	"golang.org/x/sys/unix"
)

// Config selects and sizes the device.
type Config struct {
	Path       string
	VMSize     int
	MaxThreads uint32
}

func DefaultConfig() Config {
	return Config{
		Path:       "/dev/binder",
		VMSize:     1024*1024 - 2*os.Getpagesize(),
		MaxThreads: 15,
	}
}

// Device is an open binder device with its receive buffer mapped.
type Device struct {
	// fd is -1 once closed; loopers read it while Close runs
	fd     atomic.Int32
	mapped []byte
	base   uint64

	closeOnce sync.Once
}

// Open opens the device, checks the protocol version and maps the receive
// area.
func Open(cfg Config) (*Device, error) {
	fd, err := unix.Open(cfg.Path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Path, err)
	}
	d := &Device{}
	d.fd.Store(int32(fd))

	var version int32
	if err := d.ioctl(abi.Version, unsafe.Pointer(&version)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("binder version: %w", err)
	}
	if version != abi.ProtocolVersion {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: driver=%d want=%d", ErrVersionMismatch, version, abi.ProtocolVersion)
	}

	maxThreads := cfg.MaxThreads
	if err := d.ioctl(abi.SetMaxThreads, unsafe.Pointer(&maxThreads)); err != nil {
		logging.Warnf("driver.Open set max threads=%d: %v", maxThreads, err)
	}

	mapped, err := unix.Mmap(fd, 0, cfg.VMSize, unix.PROT_READ, unix.MAP_PRIVATE|unix.MAP_NORESERVE)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap %s: %w", cfg.Path, err)
	}
	d.mapped = mapped
	d.base = uint64(uintptr(unsafe.Pointer(&mapped[0])))

	logging.Infof("driver.Open path=%s version=%d vm=%d max_threads=%d", cfg.Path, version, cfg.VMSize, maxThreads)
	return d, nil
}

func (d *Device) FD() int { return int(d.fd.Load()) }

func (d *Device) WriteRead(write, read []byte) (int, int, error) {
	fd := d.fd.Load()
	if fd < 0 {
		return 0, 0, ErrBadFD
	}
	var pinner runtime.Pinner
	defer pinner.Unpin()

	bwr := abi.WriteReadRecord{
		WriteSize: uint64(len(write)),
		ReadSize:  uint64(len(read)),
	}
	if len(write) > 0 {
		pinner.Pin(&write[0])
		bwr.WriteBuffer = uint64(uintptr(unsafe.Pointer(&write[0])))
	}
	if len(read) > 0 {
		pinner.Pin(&read[0])
		bwr.ReadBuffer = uint64(uintptr(unsafe.Pointer(&read[0])))
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(abi.WriteRead), uintptr(unsafe.Pointer(&bwr)))
	if errno != 0 {
		return int(bwr.WriteConsumed), int(bwr.ReadConsumed), errnoErr(errno)
	}
	return int(bwr.WriteConsumed), int(bwr.ReadConsumed), nil
}

func (d *Device) Pin(buf []byte) (uint64, func()) {
	if len(buf) == 0 {
		return 0, func() {}
	}
	pinner := new(runtime.Pinner)
	pinner.Pin(&buf[0])
	return uint64(uintptr(unsafe.Pointer(&buf[0]))), pinner.Unpin
}

func (d *Device) Region(addr uint64) ([]byte, error) {
	if addr < d.base || addr >= d.base+uint64(len(d.mapped)) {
		return nil, fmt.Errorf("%w: %#x", ErrNotMapped, addr)
	}
	return d.mapped[addr-d.base:], nil
}

// BecomeContextManager registers this process as the owner of handle 0.
func (d *Device) BecomeContextManager() error {
	var zero int32
	return d.ioctl(abi.SetContextMgr, unsafe.Pointer(&zero))
}

// ThreadExit tells the driver the calling thread no longer serves
// transactions.
func (d *Device) ThreadExit() error {
	var zero int32
	return d.ioctl(abi.ThreadExit, unsafe.Pointer(&zero))
}

func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.mapped != nil {
			if uerr := unix.Munmap(d.mapped); uerr != nil {
				err = uerr
			}
			d.mapped = nil
		}
		if cerr := unix.Close(int(d.fd.Swap(-1))); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

func (d *Device) ioctl(req uint32, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd.Load()), uintptr(req), uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return errnoErr(errno)
		}
	}
}

// errnoErr keeps the errno visible to errors.Is while marking a closed or
// invalid descriptor as ErrBadFD.
func errnoErr(errno unix.Errno) error {
	if errno == unix.EBADF {
		return fmt.Errorf("%w: %w", ErrBadFD, errno)
	}
	return errno
}
