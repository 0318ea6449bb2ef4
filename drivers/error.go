package drivers

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrLineReleased  = errors.New("line already released")
	ErrLineBusy      = errors.New("line already claimed")
	ErrLineNotFound  = errors.New("line does not exist")
	ErrInvalidLineId = errors.New("invalid line identifier")
	ErrTimeout       = errors.New("hardware call timed out")
	ErrNotReady      = errors.New("driver not ready")
)

// DriverError is returned by every failed line access.
type DriverError struct {
	Driver string
	Line   string
	Op     string
	Err    error
}

func (de *DriverError) Error() string {
	return fmt.Sprintf("%s driver: %s %s: %v", de.Driver, de.Op, de.Line, de.Err)
}

func (de *DriverError) Unwrap() error {
	return de.Err
}

func (de *DriverError) Cause() error {
	return de.Err
}
