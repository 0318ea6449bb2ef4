package bitbang

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrDisconnected is returned by any operation on a bus that was already
// disconnected.
var ErrDisconnected = errors.New("i2c bus already disconnected")

// AckError signals that the receiver did not acknowledge a sent byte.
// The bus is left with SCL low and SDA released; issue Stop to reset it.
type AckError struct {
	Byte   byte
	Sample byte
}

func (ae *AckError) Error() string {
	return fmt.Sprintf("receiver nacked sent data %#04x (sda sample %#04x)", ae.Byte, ae.Sample)
}

// IsNack reports whether err carries an AckError.
func IsNack(err error) bool {
	var ackErr *AckError
	return errors.As(err, &ackErr)
}
