package drivers

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"
)

const gpioDriverName = "gpio"
const gpioMaxPin = 53

// GpIO drives Raspberry Pi GPIO lines. Line n of port p is BCM pin p*8+n,
// so Dev1/port2/line1 is GPIO17.
type GpIO struct {
	InvertInputs  bool
	InvertOutputs bool
	Timeout       time.Duration

	claims  lineClaims
	isReady bool
}

type GpOutput struct {
	lineBase
	pins   []rpio.Pin
	lines  []uint8
	invert bool
}

type GpInput struct {
	lineBase
	pins   []rpio.Pin
	lines  []uint8
	invert bool
}

func (gpo *GpOutput) Write(pattern byte) error {
	return gpo.call("write", func() error {
		for i, pin := range gpo.pins {
			state := pattern&(1<<gpo.lines[i]) != 0
			if gpo.invert {
				state = !state
			}
			if state {
				pin.High()
			} else {
				pin.Low()
			}
		}
		return nil
	})
}

// Close leaves the pins as inputs.
func (gpo *GpOutput) Close() error {
	return gpo.close(func() error {
		for _, pin := range gpo.pins {
			pin.Input()
		}
		return nil
	})
}

func (gpi *GpInput) Read() (value byte, err error) {
	err = gpi.call("read", func() error {
		value = 0
		for i, pin := range gpi.pins {
			high := pin.Read() == rpio.High
			if gpi.invert {
				high = !high
			}
			if high {
				value |= 1 << gpi.lines[i]
			}
		}
		return nil
	})
	return
}

func (gpi *GpInput) Close() error {
	return gpi.close(nil)
}

func (gp *GpIO) Setup(ctx context.Context) error {
	err := rpio.Open()
	if err != nil {
		return errors.Wrap(err, "failed to Setup gpio driver")
	}

	gp.isReady = true
	return nil
}

func (gp *GpIO) String() string {
	return gpioDriverName
}

func (gp *GpIO) IsReady() bool {
	return gp.isReady
}

func (gp *GpIO) Close() error {
	if !gp.isReady {
		return nil
	}
	gp.isReady = false
	return rpio.Close()
}

func (gp *GpIO) resolve(op, id string) (lid LineId, pins []rpio.Pin, release func(), err error) {
	if !gp.isReady {
		err = &DriverError{Driver: gpioDriverName, Line: id, Op: op, Err: ErrNotReady}
		return
	}

	lid, err = ParseLineId(id)
	if err != nil {
		err = &DriverError{Driver: gpioDriverName, Line: id, Op: op, Err: err}
		return
	}

	flat := lid.Pins()
	for _, pin := range flat {
		if pin > gpioMaxPin {
			err = &DriverError{Driver: gpioDriverName, Line: id, Op: op, Err: errors.Wrapf(ErrLineNotFound, "gpio%d", pin)}
			return
		}
		pins = append(pins, rpio.Pin(pin))
	}

	release, err = gp.claims.claim(gpioDriverName, lid, flat)
	return
}

func (gp *GpIO) ConnectOutput(id string) (OutputLine, error) {
	lid, pins, release, err := gp.resolve("connect", id)
	if err != nil {
		return nil, err
	}

	for _, pin := range pins {
		pin.Output()
	}

	return &GpOutput{
		lineBase: lineBase{id: lid, driver: gpioDriverName, timeout: gp.Timeout, release: release},
		pins:     pins,
		lines:    lid.Lines,
		invert:   gp.InvertOutputs,
	}, nil
}

func (gp *GpIO) ConnectInput(id string) (InputLine, error) {
	lid, pins, release, err := gp.resolve("connect", id)
	if err != nil {
		return nil, err
	}

	for _, pin := range pins {
		pin.Input()
		pin.PullUp()
	}

	return &GpInput{
		lineBase: lineBase{id: lid, driver: gpioDriverName, timeout: gp.Timeout, release: release},
		pins:     pins,
		lines:    lid.Lines,
		invert:   gp.InvertInputs,
	}, nil
}
