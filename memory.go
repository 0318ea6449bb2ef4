package procket

import (
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/hubertat/procket/bitbang"
)

const (
	memorySize        = 256
	defaultWriteDelay = 5 * time.Millisecond
)

// Memory is the fixture's 2 Kbit EEPROM. Every access is a separate bus
// session; reads use a repeated START to switch from the address write to
// the data read.
type Memory struct {
	WriteDelay time.Duration

	fixture *Fixture
}

// Memory returns the EEPROM view of the fixture.
func (fx *Fixture) Memory() *Memory {
	return &Memory{
		WriteDelay: defaultWriteDelay,
		fixture:    fx,
	}
}

func (mem *Memory) Size() int64 {
	return memorySize
}

func checkIndex(index int64) error {
	if index < 0 || index >= memorySize {
		return &ConfigurationError{Field: "memory index", Value: fmt.Sprint(index), Reason: fmt.Sprintf("want 0..%d", memorySize-1)}
	}
	return nil
}

// ReadByteAt reads one byte: START, 0xA0, index, START, 0xA1, receive, STOP.
func (mem *Memory) ReadByteAt(index byte) (data byte, err error) {
	fx := mem.fixture
	fx.lock.Lock()
	defer fx.lock.Unlock()

	err = fx.transact(func(m bitbang.Master) (frameErr error) {
		data, frameErr = fx.readMemoryFrame(m, index)
		return
	})
	if err != nil {
		err = errors.Wrapf(err, "failed to read memory at %d", index)
		return
	}

	fx.Logger.Debug("memory read", "index", index, "value", data)
	return
}

func (fx *Fixture) readMemoryFrame(m bitbang.Master, index byte) (data byte, err error) {
	err = m.Start()
	if err != nil {
		return
	}

	for _, b := range []byte{addressMemoryWrite, index} {
		err = m.SendByte(b)
		if err != nil {
			fx.abort(m)
			return
		}
	}

	err = m.Start()
	if err != nil {
		fx.abort(m)
		return
	}

	err = m.SendByte(addressMemoryRead)
	if err != nil {
		fx.abort(m)
		return
	}

	data, err = m.ReceiveByte()
	if err != nil {
		fx.abort(m)
		return
	}

	err = m.Stop()
	return
}

// WriteByteAt writes one byte: START, 0xA0, index, value, STOP.
// It does not wait for the write cycle, WriteAt does.
func (mem *Memory) WriteByteAt(index, value byte) error {
	fx := mem.fixture
	fx.lock.Lock()
	defer fx.lock.Unlock()

	err := fx.transact(func(m bitbang.Master) error {
		return fx.writeFrame(m, addressMemoryWrite, index, value)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to write memory at %d", index)
	}

	fx.Logger.Debug("memory write", "index", index, "value", value)
	return nil
}

// ReadAt implements io.ReaderAt, one session per byte.
func (mem *Memory) ReadAt(p []byte, off int64) (n int, err error) {
	err = checkIndex(off)
	if err != nil {
		return
	}

	for n < len(p) {
		if off+int64(n) >= memorySize {
			err = io.EOF
			return
		}
		p[n], err = mem.ReadByteAt(byte(off + int64(n)))
		if err != nil {
			return
		}
		n++
	}
	return
}

// WriteAt implements io.WriterAt and waits WriteDelay after every byte.
func (mem *Memory) WriteAt(p []byte, off int64) (n int, err error) {
	err = checkIndex(off)
	if err != nil {
		return
	}
	if off+int64(len(p)) > memorySize {
		err = &ConfigurationError{Field: "memory range", Value: fmt.Sprintf("%d+%d", off, len(p)), Reason: "past end of memory"}
		return
	}

	for n < len(p) {
		err = mem.WriteByteAt(byte(off+int64(n)), p[n])
		if err != nil {
			return
		}
		n++
		time.Sleep(mem.WriteDelay)
	}
	return
}

// Dump reads indices from..to inclusive and logs every value.
func (mem *Memory) Dump(from, to byte) (data []byte, err error) {
	if to < from {
		err = &ConfigurationError{Field: "memory range", Value: fmt.Sprintf("%d..%d", from, to), Reason: "end before start"}
		return
	}

	data = make([]byte, int(to)-int(from)+1)
	_, err = mem.ReadAt(data, int64(from))
	if err != nil {
		return
	}

	for i, value := range data {
		mem.fixture.Logger.Info("memory", "index", int(from)+i, "value", value)
	}
	return
}

var (
	_ io.ReaderAt = &Memory{}
	_ io.WriterAt = &Memory{}
)
