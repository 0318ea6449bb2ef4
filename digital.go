package procket

import (
	"fmt"

	"github.com/pkg/errors"
)

// AllLines passed as line addresses the whole port.
const AllLines = -1

func (fx *Fixture) digitalId(port uint8, line int) string {
	if line == AllLines {
		return fmt.Sprintf("%s/port%d", fx.Device, port)
	}
	return fmt.Sprintf("%s/port%d/line%d", fx.Device, port, line)
}

// WriteDigital writes value to a port (line == AllLines) or a single line of
// the fixture's device. The handle is released before returning.
func (fx *Fixture) WriteDigital(port uint8, line int, value byte) (err error) {
	fx.lock.Lock()
	defer fx.lock.Unlock()

	id := fx.digitalId(port, line)
	output, err := fx.driver.ConnectOutput(id)
	if err != nil {
		return errors.Wrapf(err, "failed to connect %s", id)
	}
	defer func() {
		closeErr := output.Close()
		if closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	err = output.Write(value)
	if err != nil {
		return errors.Wrapf(err, "failed to write %s", id)
	}

	fx.Logger.Debug("digital write", "line", id, "value", value)
	return nil
}

// ReadDigital samples a port or a single line of the fixture's device.
func (fx *Fixture) ReadDigital(port uint8, line int) (value byte, err error) {
	fx.lock.Lock()
	defer fx.lock.Unlock()

	id := fx.digitalId(port, line)
	input, err := fx.driver.ConnectInput(id)
	if err != nil {
		err = errors.Wrapf(err, "failed to connect %s", id)
		return
	}
	defer func() {
		closeErr := input.Close()
		if closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	value, err = input.Read()
	if err != nil {
		err = errors.Wrapf(err, "failed to read %s", id)
		return
	}

	fx.Logger.Debug("digital read", "line", id, "value", value)
	return
}
