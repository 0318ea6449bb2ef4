package procket

import (
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/hubertat/procket/bitbang"
)

func TestMemoryReadByteAt(t *testing.T) {
	fx, rec := newRecordedFixture()
	rec.receive = []byte{0x33}

	value, err := fx.Memory().ReadByteAt(5)
	if err != nil {
		t.Fatal(err)
	}
	assertByte(t, value, 0x33)
	assertOps(t, rec.ops, []string{"start", "send 0xa0", "send 0x05", "start", "send 0xa1", "receive", "stop", "disconnect"})
}

func TestMemoryWriteByteAt(t *testing.T) {
	fx, rec := newRecordedFixture()

	err := fx.Memory().WriteByteAt(5, 0x33)
	if err != nil {
		t.Fatal(err)
	}
	assertOps(t, rec.ops, []string{"start", "send 0xa0", "send 0x05", "send 0x33", "stop", "disconnect"})
}

func TestMemoryNack(t *testing.T) {
	fx, rec := newRecordedFixture()
	rec.nackOn[0xA1] = true

	_, err := fx.Memory().ReadByteAt(7)
	if !bitbang.IsNack(err) {
		t.Fatalf("got %v want nack", err)
	}
	assertOps(t, rec.ops, []string{"start", "send 0xa0", "send 0x07", "start", "send 0xa1", "stop", "disconnect"})
}

func TestMemoryReadWriteAt(t *testing.T) {
	fx, rec := newRecordedFixture()
	mem := fx.Memory()
	mem.WriteDelay = 0

	n, err := mem.WriteAt([]byte{0x01, 0x02}, 254)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("got %d want 2", n)
	}
	assertOps(t, rec.ops, []string{
		"start", "send 0xa0", "send 0xfe", "send 0x01", "stop", "disconnect",
		"start", "send 0xa0", "send 0xff", "send 0x02", "stop", "disconnect",
	})

	t.Run("write past end", func(t *testing.T) {
		rec.ops = nil
		_, err := mem.WriteAt([]byte{0x01, 0x02}, 255)
		var confErr *ConfigurationError
		if !errors.As(err, &confErr) {
			t.Errorf("got %v want ConfigurationError", err)
		}
		if len(rec.ops) != 0 {
			t.Errorf("expected no bus traffic, got %v", rec.ops)
		}
	})

	t.Run("read stops at end", func(t *testing.T) {
		rec.receive = []byte{0xAB, 0xCD}
		buf := make([]byte, 2)
		n, err := mem.ReadAt(buf, 255)
		if err != io.EOF {
			t.Errorf("got %v want EOF", err)
		}
		if n != 1 {
			t.Errorf("got %d want 1", n)
		}
		assertByte(t, buf[0], 0xAB)
	})

	t.Run("negative offset", func(t *testing.T) {
		_, err := mem.ReadAt(make([]byte, 1), -1)
		var confErr *ConfigurationError
		if !errors.As(err, &confErr) {
			t.Errorf("got %v want ConfigurationError", err)
		}
	})
}

func TestMemoryDump(t *testing.T) {
	fx, rec := newRecordedFixture()
	rec.receive = []byte{0x10, 0x20, 0x30}

	data, err := fx.Memory().Dump(1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x10, 0x20, 0x30}, data); diff != "" {
		t.Errorf("dump mismatch (-want +got):\n%s", diff)
	}

	_, err = fx.Memory().Dump(3, 1)
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Errorf("got %v want ConfigurationError", err)
	}
}
