package drivers

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// LineDriver hands out single digital lines (or small groups of lines inside
// one port) of some digital I/O device. Identifiers use the
// <device>/<port>[/<line-range>] syntax, see ParseLineId.
type LineDriver interface {
	Setup(ctx context.Context) error
	Close() error
	String() string
	IsReady() bool
	ConnectOutput(id string) (OutputLine, error)
	ConnectInput(id string) (InputLine, error)
}

// OutputLine is a handle bound to one output identifier.
// Write takes a port wide pattern: every bound line is driven to the level
// of the bit at its own position inside the port.
type OutputLine interface {
	Write(pattern byte) error
	Close() error
	String() string
}

// InputLine is a handle bound to one input identifier.
// Read returns the bound lines at their bit positions inside the port,
// all other bits are zero.
type InputLine interface {
	Read() (byte, error)
	Close() error
	String() string
}

func MapAllLineDrivers() map[string]LineDriver {
	drivers := []LineDriver{
		&GpIO{},
		&McpIO{},
		&MockIoDriver{},
	}

	mapped := make(map[string]LineDriver)
	for _, driver := range drivers {
		mapped[driver.String()] = driver
	}
	return mapped
}

// lineClaims tracks physical pins held by open handles of one driver.
type lineClaims struct {
	mu   sync.Mutex
	pins map[uint16]string
}

func (lc *lineClaims) claim(driverName string, id LineId, pins []uint16) (release func(), err error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.pins == nil {
		lc.pins = make(map[uint16]string)
	}

	for _, pin := range pins {
		if owner, claimed := lc.pins[pin]; claimed {
			err = &DriverError{Driver: driverName, Line: id.String(), Op: "connect", Err: errors.Wrapf(ErrLineBusy, "pin %d held by %s", pin, owner)}
			return
		}
	}

	for _, pin := range pins {
		lc.pins[pin] = id.String()
	}

	release = func() {
		lc.mu.Lock()
		defer lc.mu.Unlock()
		for _, pin := range pins {
			delete(lc.pins, pin)
		}
	}
	return
}

func (lc *lineClaims) count() int {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	return len(lc.pins)
}

// lineBase carries what every handle needs: identity, timeout and the
// released guard. Hardware accesses of one handle never overlap, and Close
// returns only after the access in flight has finished.
type lineBase struct {
	id      LineId
	driver  string
	timeout time.Duration
	release func()

	mu       sync.Mutex
	released bool
	inflight sync.WaitGroup
	access   sync.Mutex
}

func (lb *lineBase) String() string {
	return lb.id.String()
}

func (lb *lineBase) fail(op string, err error) error {
	return &DriverError{Driver: lb.driver, Line: lb.id.String(), Op: op, Err: err}
}

func (lb *lineBase) isReleased() bool {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	return lb.released
}

// call runs a hardware access; nothing reaches the hardware once released.
// A timed out access may still finish in the background, but a queued one
// is dropped when the handle got released meanwhile.
func (lb *lineBase) call(op string, access func() error) error {
	lb.mu.Lock()
	if lb.released {
		lb.mu.Unlock()
		return lb.fail(op, ErrLineReleased)
	}
	lb.inflight.Add(1)
	lb.mu.Unlock()

	err := callWithTimeout(lb.timeout, func() error {
		defer lb.inflight.Done()

		lb.access.Lock()
		defer lb.access.Unlock()

		if lb.isReleased() {
			return ErrLineReleased
		}
		return access()
	})
	if err != nil {
		return lb.fail(op, err)
	}

	return nil
}

func (lb *lineBase) close(stop func() error) error {
	lb.mu.Lock()
	if lb.released {
		lb.mu.Unlock()
		return lb.fail("close", ErrLineReleased)
	}
	lb.released = true
	lb.mu.Unlock()

	lb.inflight.Wait()

	var err error
	if stop != nil {
		lb.access.Lock()
		err = stop()
		lb.access.Unlock()
	}

	if lb.release != nil {
		lb.release()
	}

	if err != nil {
		return lb.fail("close", err)
	}
	return nil
}

// callWithTimeout runs access inline when timeout is zero ("try once, no
// wait"), otherwise it gives up waiting after timeout.
func callWithTimeout(timeout time.Duration, access func() error) error {
	if timeout <= 0 {
		return access()
	}

	done := make(chan error, 1)
	go func() {
		done <- access()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return errors.Wrapf(ErrTimeout, "no response within %s", timeout)
	}
}
