package drivers

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/racerxdl/go-mcp23017"
)

const mcpioDriverName = "mcpio"
const mcpPinCount = 16

// McpIO drives the lines of an MCP23017 expander: port0 is bank A
// (pins 0-7), port1 is bank B (pins 8-15).
type McpIO struct {
	BusNo         uint8
	DevNo         uint8
	InvertInputs  bool
	InvertOutputs bool
	Timeout       time.Duration

	device  *mcp23017.Device
	claims  lineClaims
	isReady bool
	// a single device shares one i2c file descriptor
	lock sync.Mutex
}

type McpOutput struct {
	lineBase
	pins   []uint8
	lines  []uint8
	invert bool
	mcp    *McpIO
}

type McpInput struct {
	lineBase
	pins   []uint8
	lines  []uint8
	invert bool
	mcp    *McpIO
}

func (mout *McpOutput) Write(pattern byte) error {
	return mout.call("write", func() error {
		mout.mcp.lock.Lock()
		defer mout.mcp.lock.Unlock()

		for i, pin := range mout.pins {
			state := pattern&(1<<mout.lines[i]) != 0
			if mout.invert {
				state = !state
			}
			err := mout.mcp.device.DigitalWrite(pin, mcp23017.PinLevel(state))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (mout *McpOutput) Close() error {
	return mout.close(func() error {
		mout.mcp.lock.Lock()
		defer mout.mcp.lock.Unlock()

		for _, pin := range mout.pins {
			err := mout.mcp.device.PinMode(pin, mcp23017.INPUT)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (min *McpInput) Read() (value byte, err error) {
	err = min.call("read", func() error {
		min.mcp.lock.Lock()
		defer min.mcp.lock.Unlock()

		value = 0
		for i, pin := range min.pins {
			rawState, err := min.mcp.device.DigitalRead(pin)
			if err != nil {
				return err
			}
			high := bool(rawState)
			if min.invert {
				high = !high
			}
			if high {
				value |= 1 << min.lines[i]
			}
		}
		return nil
	})
	return
}

func (min *McpInput) Close() error {
	return min.close(nil)
}

func (mcp *McpIO) Setup(ctx context.Context) (err error) {
	mcp.device, err = mcp23017.Open(mcp.BusNo, mcp.DevNo)
	if err != nil {
		err = errors.Wrapf(err, "failed to open mcp23017 on bus %d, device %d", mcp.BusNo, mcp.DevNo)
		return
	}

	mcp.isReady = true
	return
}

func (mcp *McpIO) String() string {
	return mcpioDriverName
}

func (mcp *McpIO) IsReady() bool {
	return mcp.isReady
}

func (mcp *McpIO) Close() error {
	if !mcp.isReady {
		return nil
	}
	mcp.isReady = false
	return mcp.device.Close()
}

func (mcp *McpIO) resolve(op, id string) (lid LineId, pins []uint8, release func(), err error) {
	if !mcp.isReady {
		err = &DriverError{Driver: mcpioDriverName, Line: id, Op: op, Err: ErrNotReady}
		return
	}

	lid, err = ParseLineId(id)
	if err != nil {
		err = &DriverError{Driver: mcpioDriverName, Line: id, Op: op, Err: err}
		return
	}

	flat := lid.Pins()
	for _, pin := range flat {
		if pin >= mcpPinCount {
			err = &DriverError{Driver: mcpioDriverName, Line: id, Op: op, Err: errors.Wrapf(ErrLineNotFound, "mcp23017 has no pin %d", pin)}
			return
		}
		pins = append(pins, uint8(pin))
	}

	release, err = mcp.claims.claim(mcpioDriverName, lid, flat)
	return
}

func (mcp *McpIO) ConnectOutput(id string) (OutputLine, error) {
	lid, pins, release, err := mcp.resolve("connect", id)
	if err != nil {
		return nil, err
	}

	mcp.lock.Lock()
	defer mcp.lock.Unlock()
	for _, pin := range pins {
		err = mcp.device.PinMode(pin, mcp23017.OUTPUT)
		if err != nil {
			release()
			return nil, &DriverError{Driver: mcpioDriverName, Line: id, Op: "connect", Err: err}
		}
	}

	return &McpOutput{
		lineBase: lineBase{id: lid, driver: mcpioDriverName, timeout: mcp.Timeout, release: release},
		pins:     pins,
		lines:    lid.Lines,
		invert:   mcp.InvertOutputs,
		mcp:      mcp,
	}, nil
}

func (mcp *McpIO) ConnectInput(id string) (InputLine, error) {
	lid, pins, release, err := mcp.resolve("connect", id)
	if err != nil {
		return nil, err
	}

	mcp.lock.Lock()
	defer mcp.lock.Unlock()
	for _, pin := range pins {
		err = mcp.device.PinMode(pin, mcp23017.INPUT)
		if err == nil {
			err = mcp.device.SetPullUp(pin, true)
		}
		if err != nil {
			release()
			return nil, &DriverError{Driver: mcpioDriverName, Line: id, Op: "connect", Err: err}
		}
	}

	return &McpInput{
		lineBase: lineBase{id: lid, driver: mcpioDriverName, timeout: mcp.Timeout, release: release},
		pins:     pins,
		lines:    lid.Lines,
		invert:   mcp.InvertInputs,
		mcp:      mcp,
	}, nil
}
