// Package bitbang implements a single master I2C bus on top of three plain
// digital lines: an SDA output, an SDA input and an SCL output.
//
// There is no clock stretching and no arbitration; every call is blocking
// and goes straight to the line driver.
package bitbang

import (
	"errors"
	"os"

	"github.com/charmbracelet/log"

	"github.com/hubertat/procket/drivers"
)

// Level is the byte written to a line. The fixture output stages invert,
// so the logical HIGH is the all-zero pattern.
type Level byte

const (
	High Level = 0x00
	Low  Level = 0xFF
)

// Master is the byte level surface consumed by fixture code.
type Master interface {
	Start() error
	Stop() error
	SendByte(b byte) error
	ReceiveByte() (byte, error)
}

// Bus is one I2C session: the three open line handles and nothing else.
type Bus struct {
	Logger *log.Logger

	sdaWrite drivers.OutputLine
	sdaRead  drivers.InputLine
	scl      drivers.OutputLine

	disconnected bool
}

func newBusLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "i2c",
		Level:  log.GetLevel(),
	})
}

// Connect opens the SDA write, SDA read and SCL lines, in that order.
// Nothing is driven on the bus yet.
func Connect(driver drivers.LineDriver, sdaWriteId, sdaReadId, sclId string) (bus *Bus, err error) {
	bus = &Bus{Logger: newBusLogger()}

	bus.sdaWrite, err = driver.ConnectOutput(sdaWriteId)
	if err != nil {
		return nil, err
	}

	bus.sdaRead, err = driver.ConnectInput(sdaReadId)
	if err != nil {
		bus.sdaWrite.Close()
		return nil, err
	}

	bus.scl, err = driver.ConnectOutput(sclId)
	if err != nil {
		bus.sdaWrite.Close()
		bus.sdaRead.Close()
		return nil, err
	}

	bus.Logger.Debug("connected", "sda_write", sdaWriteId, "sda_read", sdaReadId, "scl", sclId)
	return bus, nil
}

// Disconnect closes all three lines, each exactly once, even when one of
// them fails.
func (bus *Bus) Disconnect() (err error) {
	if bus.disconnected {
		return ErrDisconnected
	}
	bus.disconnected = true

	for _, line := range []interface{ Close() error }{bus.sdaWrite, bus.sdaRead, bus.scl} {
		err = errors.Join(err, line.Close())
	}

	bus.Logger.Debug("disconnected", "err", err)
	return
}

func (bus *Bus) setSda(level Level) error {
	return bus.sdaWrite.Write(byte(level))
}

func (bus *Bus) setScl(level Level) error {
	return bus.scl.Write(byte(level))
}

func (bus *Bus) getSda() (byte, error) {
	return bus.sdaRead.Read()
}

// clock pulses SCL high then low; the receiver samples on this edge.
func (bus *Bus) clock() error {
	err := bus.setScl(High)
	if err != nil {
		return err
	}
	return bus.setScl(Low)
}

func (bus *Bus) sequence(steps ...func() error) error {
	if bus.disconnected {
		return ErrDisconnected
	}
	for _, step := range steps {
		err := step()
		if err != nil {
			return err
		}
	}
	return nil
}

func (bus *Bus) sda(level Level) func() error {
	return func() error { return bus.setSda(level) }
}

func (bus *Bus) sclTo(level Level) func() error {
	return func() error { return bus.setScl(level) }
}

// Start drives SDA low while SCL is high, then pulls SCL low.
func (bus *Bus) Start() error {
	return bus.sequence(
		bus.sda(High),
		bus.sclTo(High),
		bus.sda(Low),
		bus.sclTo(Low),
	)
}

// Stop releases SDA while SCL is high. Both lines are left high.
func (bus *Bus) Stop() error {
	return bus.sequence(
		bus.sda(Low),
		bus.sclTo(High),
		bus.sda(High),
	)
}

// SendByte clocks out b MSB first and samples the ACK on the 9th clock.
// A non-zero sample is returned as *AckError with SCL already low again.
func (bus *Bus) SendByte(b byte) error {
	if bus.disconnected {
		return ErrDisconnected
	}

	data := b
	for bit := 0; bit < 8; bit++ {
		level := Low
		if data&0x80 != 0 {
			level = High
		}
		err := bus.setSda(level)
		if err != nil {
			return err
		}
		err = bus.clock()
		if err != nil {
			return err
		}
		data = data << 1
	}

	err := bus.sequence(bus.sda(High), bus.sclTo(High))
	if err != nil {
		return err
	}
	sample, err := bus.getSda()
	if err != nil {
		return err
	}
	err = bus.setScl(Low)
	if err != nil {
		return err
	}

	if sample != 0 {
		bus.Logger.Debug("nack", "byte", b, "sample", sample)
		return &AckError{Byte: b, Sample: sample}
	}

	bus.Logger.Debug("sent", "byte", b)
	return nil
}

// ReceiveByte clocks in 8 bits MSB first and then always ends the frame
// with the same released-SDA pulse; there is no ACK/NACK choice, so only
// single byte reads are supported.
func (bus *Bus) ReceiveByte() (data byte, err error) {
	if bus.disconnected {
		err = ErrDisconnected
		return
	}

	for bit := 0; bit < 8; bit++ {
		data = data << 1
		err = bus.setScl(High)
		if err != nil {
			return
		}
		var sample byte
		sample, err = bus.getSda()
		if err != nil {
			return
		}
		if sample != 0 {
			data = data | 1
		}
		err = bus.setScl(Low)
		if err != nil {
			return
		}
	}

	err = bus.sequence(bus.sda(High), bus.clock)
	if err != nil {
		return
	}

	bus.Logger.Debug("received", "byte", data)
	return
}

// Write sends every byte in order and stops at the first failure.
func (bus *Bus) Write(data ...byte) error {
	for _, b := range data {
		err := bus.SendByte(b)
		if err != nil {
			return err
		}
	}
	return nil
}

var _ Master = &Bus{}
