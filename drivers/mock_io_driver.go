package drivers

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
)

const mockDriverName = "mock_driver"

type MockOp string

const (
	MockConnectOutput MockOp = "connect_out"
	MockConnectInput  MockOp = "connect_in"
	MockWrite         MockOp = "write"
	MockRead          MockOp = "read"
	MockClose         MockOp = "close"
)

// MockEvent is one hardware access seen by MockIoDriver.
type MockEvent struct {
	Op    MockOp
	Line  string
	Value byte
}

func (me MockEvent) String() string {
	switch me.Op {
	case MockWrite, MockRead:
		return fmt.Sprintf("%s %s %#04x", me.Op, me.Line, me.Value)
	}
	return fmt.Sprintf("%s %s", me.Op, me.Line)
}

// MockIoDriver is an in-memory LineDriver. It keeps an ordered log of every
// hardware access across all of its lines, so tests can check the exact
// sequence a protocol produced.
type MockIoDriver struct {
	// Responder, when set, answers reads that have no fed values left.
	Responder func(line string) byte

	events   []MockEvent
	states   map[string]byte
	feeds    map[string][]byte
	failures map[string]error
	released map[string]int

	writeTo          io.Writer
	writeStateChange bool

	claims lineClaims
	ready  bool
	lock   sync.Mutex
}

type MockOutput struct {
	lineBase
	md *MockIoDriver
}

type MockInput struct {
	lineBase
	md *MockIoDriver
}

func (mo *MockOutput) Write(pattern byte) error {
	return mo.call("write", func() error {
		return mo.md.write(mo.id.String(), pattern)
	})
}

func (mo *MockOutput) Close() error {
	return mo.close(func() error {
		return mo.md.release(mo.id.String())
	})
}

func (mi *MockInput) Read() (value byte, err error) {
	err = mi.call("read", func() (readErr error) {
		value, readErr = mi.md.read(mi.id.String(), mi.id.Mask())
		return
	})
	return
}

func (mi *MockInput) Close() error {
	return mi.close(func() error {
		return mi.md.release(mi.id.String())
	})
}

func (md *MockIoDriver) Setup(ctx context.Context) error {
	md.lock.Lock()
	defer md.lock.Unlock()

	md.initMaps()
	md.ready = true
	return nil
}

// initMaps lets tests script the mock before Setup, Setup keeps the script.
// The caller holds the lock.
func (md *MockIoDriver) initMaps() {
	if md.states == nil {
		md.states = make(map[string]byte)
	}
	if md.feeds == nil {
		md.feeds = make(map[string][]byte)
	}
	if md.failures == nil {
		md.failures = make(map[string]error)
	}
	if md.released == nil {
		md.released = make(map[string]int)
	}
}

func (md *MockIoDriver) Close() error {
	md.ready = false
	return nil
}

func (md *MockIoDriver) String() string {
	return mockDriverName
}

func (md *MockIoDriver) IsReady() bool {
	return md.ready
}

func (md *MockIoDriver) connect(op MockOp, id string) (lid LineId, release func(), err error) {
	if !md.ready {
		err = &DriverError{Driver: mockDriverName, Line: id, Op: "connect", Err: ErrNotReady}
		return
	}

	lid, err = ParseLineId(id)
	if err != nil {
		err = &DriverError{Driver: mockDriverName, Line: id, Op: "connect", Err: err}
		return
	}

	if failure := md.failure(op, id); failure != nil {
		err = &DriverError{Driver: mockDriverName, Line: id, Op: "connect", Err: failure}
		return
	}

	release, err = md.claims.claim(mockDriverName, lid, md.flatPins(lid))
	if err != nil {
		return
	}

	md.record(MockEvent{Op: op, Line: id})
	return
}

// flatPins keeps lines of different mock devices apart.
func (md *MockIoDriver) flatPins(lid LineId) (pins []uint16) {
	devOffset := uint16(0)
	for _, c := range lid.Device {
		devOffset = devOffset*31 + uint16(c)
	}
	for _, pin := range lid.Pins() {
		pins = append(pins, devOffset<<11|pin)
	}
	return
}

func (md *MockIoDriver) ConnectOutput(id string) (OutputLine, error) {
	lid, release, err := md.connect(MockConnectOutput, id)
	if err != nil {
		return nil, err
	}

	return &MockOutput{
		lineBase: lineBase{id: lid, driver: mockDriverName, release: release},
		md:       md,
	}, nil
}

func (md *MockIoDriver) ConnectInput(id string) (InputLine, error) {
	lid, release, err := md.connect(MockConnectInput, id)
	if err != nil {
		return nil, err
	}

	return &MockInput{
		lineBase: lineBase{id: lid, driver: mockDriverName, release: release},
		md:       md,
	}, nil
}

func (md *MockIoDriver) record(event MockEvent) {
	md.lock.Lock()
	defer md.lock.Unlock()

	md.events = append(md.events, event)
}

func (md *MockIoDriver) failure(op MockOp, id string) error {
	md.lock.Lock()
	defer md.lock.Unlock()

	return md.failures[string(op)+" "+id]
}

func (md *MockIoDriver) write(id string, pattern byte) error {
	if failure := md.failure(MockWrite, id); failure != nil {
		return failure
	}

	md.lock.Lock()
	previous, known := md.states[id]
	md.states[id] = pattern
	md.events = append(md.events, MockEvent{Op: MockWrite, Line: id, Value: pattern})
	monitor := md.writeStateChange && (!known || previous != pattern)
	md.lock.Unlock()

	if monitor {
		fmt.Fprintf(md.writeTo, "[%s] state changed to %#04x\n", id, pattern)
	}
	return nil
}

// read masks the served value to the bound lines, like a real port read.
func (md *MockIoDriver) read(id string, mask byte) (value byte, err error) {
	if failure := md.failure(MockRead, id); failure != nil {
		err = failure
		return
	}

	md.lock.Lock()
	queue := md.feeds[id]
	fed := len(queue) > 0
	if fed {
		value = queue[0]
		md.feeds[id] = queue[1:]
	} else {
		value = md.states[id]
	}
	responder := md.Responder
	md.lock.Unlock()

	if !fed && responder != nil {
		value = responder(id)
	}
	value &= mask

	md.record(MockEvent{Op: MockRead, Line: id, Value: value})
	return
}

func (md *MockIoDriver) release(id string) error {
	if failure := md.failure(MockClose, id); failure != nil {
		return failure
	}

	md.lock.Lock()
	defer md.lock.Unlock()

	md.released[id]++
	md.events = append(md.events, MockEvent{Op: MockClose, Line: id})
	return nil
}

// Feed queues values returned by the next reads of line id.
func (md *MockIoDriver) Feed(id string, values ...byte) {
	md.lock.Lock()
	defer md.lock.Unlock()
	md.initMaps()

	md.feeds[id] = append(md.feeds[id], values...)
}

// SetState sets the value a line reports once its feed is empty.
func (md *MockIoDriver) SetState(id string, value byte) {
	md.lock.Lock()
	defer md.lock.Unlock()
	md.initMaps()

	md.states[id] = value
}

func (md *MockIoDriver) GetState(id string) (value byte, known bool) {
	md.lock.Lock()
	defer md.lock.Unlock()

	value, known = md.states[id]
	return
}

// FailOn makes every op on line id fail with err; a nil err clears it.
func (md *MockIoDriver) FailOn(op MockOp, id string, err error) {
	md.lock.Lock()
	defer md.lock.Unlock()
	md.initMaps()

	key := string(op) + " " + id
	if err == nil {
		delete(md.failures, key)
		return
	}
	md.failures[key] = errors.WithStack(err)
}

func (md *MockIoDriver) Events() []MockEvent {
	md.lock.Lock()
	defer md.lock.Unlock()

	events := make([]MockEvent, len(md.events))
	copy(events, md.events)
	return events
}

// EventsOf filters the log to the given ops.
func (md *MockIoDriver) EventsOf(ops ...MockOp) (events []MockEvent) {
	for _, event := range md.Events() {
		for _, op := range ops {
			if event.Op == op {
				events = append(events, event)
				break
			}
		}
	}
	return
}

func (md *MockIoDriver) ResetEvents() {
	md.lock.Lock()
	defer md.lock.Unlock()

	md.events = nil
}

// Released tells how many times line id was closed.
func (md *MockIoDriver) Released(id string) int {
	md.lock.Lock()
	defer md.lock.Unlock()

	return md.released[id]
}

// Claimed is the number of pins currently held by open handles.
func (md *MockIoDriver) Claimed() int {
	return md.claims.count()
}

func (md *MockIoDriver) MonitorStateChanges(writer io.Writer) {
	md.lock.Lock()
	defer md.lock.Unlock()

	md.writeTo = writer
	md.writeStateChange = true
}
