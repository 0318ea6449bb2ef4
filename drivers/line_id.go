package drivers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const linesPerPort = 8

// LineId is a parsed <device>/<port>[/<line-range>] identifier,
// e.g. Dev1/port0/line0:3 or Dev2/port1/line2. A port without lines
// stands for all lines of that port.
type LineId struct {
	Device string
	Port   uint8
	Lines  []uint8

	raw string
}

func ParseLineId(id string) (lid LineId, err error) {
	parts := strings.Split(strings.TrimSpace(id), "/")
	if len(parts) < 2 || len(parts) > 3 {
		err = errors.Wrapf(ErrInvalidLineId, "%q: want <device>/<port>[/<lines>]", id)
		return
	}

	lid.raw = id
	lid.Device = parts[0]
	if len(lid.Device) == 0 {
		err = errors.Wrapf(ErrInvalidLineId, "%q: empty device name", id)
		return
	}

	port, err := parseIndexed(parts[1], "port", 255)
	if err != nil {
		err = errors.Wrapf(err, "%q", id)
		return
	}
	lid.Port = port

	if len(parts) == 2 {
		for line := uint8(0); line < linesPerPort; line++ {
			lid.Lines = append(lid.Lines, line)
		}
		return
	}

	lid.Lines, err = parseLineRange(parts[2])
	if err != nil {
		err = errors.Wrapf(err, "%q", id)
	}
	return
}

func parseIndexed(token, prefix string, max int) (uint8, error) {
	lower := strings.ToLower(token)
	if !strings.HasPrefix(lower, prefix) {
		return 0, errors.Wrapf(ErrInvalidLineId, "expected %s<n>, got %s", prefix, token)
	}

	n, err := strconv.Atoi(strings.TrimPrefix(lower, prefix))
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidLineId, "bad %s number in %s", prefix, token)
	}
	if n < 0 || n > max {
		return 0, errors.Wrapf(ErrInvalidLineId, "%s number %d out of range 0..%d", prefix, n, max)
	}

	return uint8(n), nil
}

// parseLineRange accepts lineN or lineA:B, in either direction.
func parseLineRange(token string) (lines []uint8, err error) {
	from, to, isRange := strings.Cut(token, ":")

	first, err := parseIndexed(from, "line", linesPerPort-1)
	if err != nil {
		return
	}

	last := first
	if isRange {
		if !strings.HasPrefix(strings.ToLower(to), "line") {
			to = "line" + to
		}
		last, err = parseIndexed(to, "line", linesPerPort-1)
		if err != nil {
			return
		}
	}

	step := 1
	if last < first {
		step = -1
	}
	for line := int(first); ; line += step {
		lines = append(lines, uint8(line))
		if line == int(last) {
			break
		}
	}

	return
}

// Mask has a bit set for every bound line.
func (lid LineId) Mask() (mask byte) {
	for _, line := range lid.Lines {
		mask |= 1 << line
	}
	return
}

// Pins maps the bound lines to flat pin numbers, port*8+line.
func (lid LineId) Pins() (pins []uint16) {
	for _, line := range lid.Lines {
		pins = append(pins, uint16(lid.Port)*linesPerPort+uint16(line))
	}
	return
}

func (lid LineId) String() string {
	if len(lid.raw) > 0 {
		return lid.raw
	}

	return fmt.Sprintf("%s/port%d", lid.Device, lid.Port)
}
