package drivers

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func assertBytes(t testing.TB, got, want byte) {
	t.Helper()

	if got != want {
		t.Errorf("got %#04x want %#04x", got, want)
	}
}

func assertInts(t testing.TB, got, want int) {
	t.Helper()

	if got != want {
		t.Errorf("got %d want %d", got, want)
	}
}

func readyMock(t testing.TB) *MockIoDriver {
	t.Helper()

	md := &MockIoDriver{}
	err := md.Setup(context.Background())
	if err != nil {
		t.Fatalf("Setup returned err: %v", err)
	}
	return md
}

func TestMockIoSetup(t *testing.T) {
	md := MockIoDriver{}

	if md.IsReady() {
		t.Error("mock ready before Setup")
	}

	md.Setup(context.Background())
	if !md.IsReady() {
		t.Error("mock not ready after Setup")
	}

	md.Close()
	if md.IsReady() {
		t.Error("mock still ready after Close")
	}
}

func TestMockOutputWrite(t *testing.T) {
	md := readyMock(t)

	out, err := md.ConnectOutput("Dev1/port1/line0")
	if err != nil {
		t.Fatalf("ConnectOutput returned err: %v", err)
	}

	out.Write(0xFF)
	got, _ := md.GetState("Dev1/port1/line0")
	assertBytes(t, got, 0xFF)

	out.Write(0x00)
	got, _ = md.GetState("Dev1/port1/line0")
	assertBytes(t, got, 0x00)

	want := []MockEvent{
		{Op: MockConnectOutput, Line: "Dev1/port1/line0"},
		{Op: MockWrite, Line: "Dev1/port1/line0", Value: 0xFF},
		{Op: MockWrite, Line: "Dev1/port1/line0", Value: 0x00},
	}
	if diff := cmp.Diff(want, md.Events()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestMockInputRead(t *testing.T) {
	md := readyMock(t)

	in, err := md.ConnectInput("Dev1/port1/line3")
	if err != nil {
		t.Fatalf("ConnectInput returned err: %v", err)
	}

	t.Run("default state", func(t *testing.T) {
		got, err := in.Read()
		if err != nil {
			t.Errorf("Read returned err: %v", err)
		}
		assertBytes(t, got, 0)
	})

	t.Run("fed values then state", func(t *testing.T) {
		md.Feed("Dev1/port1/line3", 0x08, 0x00)
		md.SetState("Dev1/port1/line3", 0x08)

		for _, want := range []byte{0x08, 0x00, 0x08, 0x08} {
			got, _ := in.Read()
			assertBytes(t, got, want)
		}
	})

	t.Run("responder", func(t *testing.T) {
		md.SetState("Dev1/port1/line3", 0)
		md.Responder = func(line string) byte {
			return 0x42
		}
		defer func() { md.Responder = nil }()

		md.Feed("Dev1/port1/line3", 0x09)
		got, _ := in.Read()
		assertBytes(t, got, 0x08)
		got, _ = in.Read()
		assertBytes(t, got, 0x00)

		md.Responder = func(line string) byte {
			return 0xFF
		}
		got, _ = in.Read()
		assertBytes(t, got, 0x08)
	})
}

func TestMockScriptBeforeSetup(t *testing.T) {
	md := &MockIoDriver{}
	fault := errors.New("unplugged")

	md.Feed("Dev1/port0/line1", 0x02)
	md.SetState("Dev1/port0/line1", 0xFF)
	md.FailOn(MockWrite, "Dev1/port0/line5", fault)

	err := md.Setup(context.Background())
	if err != nil {
		t.Fatalf("Setup returned err: %v", err)
	}

	in, err := md.ConnectInput("Dev1/port0/line1")
	if err != nil {
		t.Fatalf("ConnectInput returned err: %v", err)
	}
	for _, want := range []byte{0x02, 0x02} {
		got, _ := in.Read()
		assertBytes(t, got, want)
	}

	out, err := md.ConnectOutput("Dev1/port0/line5")
	if err != nil {
		t.Fatalf("ConnectOutput returned err: %v", err)
	}
	if err := out.Write(0x00); !errors.Is(err, fault) {
		t.Errorf("got %v want %v", err, fault)
	}
}

func TestMockCloseWaitsForTimedOutRead(t *testing.T) {
	md := readyMock(t)

	in, err := md.ConnectInput("Dev2/port1/line3")
	if err != nil {
		t.Fatalf("ConnectInput returned err: %v", err)
	}
	in.(*MockInput).timeout = 5 * time.Millisecond

	entered := make(chan struct{})
	unblock := make(chan struct{})
	responses := 0
	md.Responder = func(line string) byte {
		responses++
		close(entered)
		<-unblock
		return 0xFF
	}

	_, err = in.Read()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v want ErrTimeout", err)
	}
	<-entered

	_, err = in.Read()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("queued read: got %v want ErrTimeout", err)
	}

	closed := make(chan error)
	go func() {
		closed <- in.Close()
	}()

	select {
	case err := <-closed:
		t.Fatalf("Close returned %v while a read was still running", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(unblock)
	if err := <-closed; err != nil {
		t.Fatalf("Close returned err: %v", err)
	}

	var ops []MockOp
	for _, event := range md.Events() {
		ops = append(ops, event.Op)
	}
	if diff := cmp.Diff([]MockOp{MockConnectInput, MockRead, MockClose}, ops); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	assertInts(t, responses, 1)

	if _, err := in.Read(); !errors.Is(err, ErrLineReleased) {
		t.Errorf("got %v want ErrLineReleased", err)
	}
}

func TestMockLineRelease(t *testing.T) {
	md := readyMock(t)

	out, _ := md.ConnectOutput("Dev1/port1/line0")
	in, _ := md.ConnectInput("Dev1/port1/line3")
	assertInts(t, md.Claimed(), 2)

	if err := out.Close(); err != nil {
		t.Errorf("Close returned err: %v", err)
	}
	if err := in.Close(); err != nil {
		t.Errorf("Close returned err: %v", err)
	}
	assertInts(t, md.Claimed(), 0)
	assertInts(t, md.Released("Dev1/port1/line0"), 1)
	assertInts(t, md.Released("Dev1/port1/line3"), 1)

	md.ResetEvents()

	t.Run("second close is guarded", func(t *testing.T) {
		err := out.Close()
		if !errors.Is(err, ErrLineReleased) {
			t.Errorf("got %v want ErrLineReleased", err)
		}
		assertInts(t, md.Released("Dev1/port1/line0"), 1)
	})

	t.Run("no hardware access after release", func(t *testing.T) {
		err := out.Write(0xFF)
		if !errors.Is(err, ErrLineReleased) {
			t.Errorf("Write got %v want ErrLineReleased", err)
		}
		_, err = in.Read()
		if !errors.Is(err, ErrLineReleased) {
			t.Errorf("Read got %v want ErrLineReleased", err)
		}
		assertInts(t, len(md.Events()), 0)
	})
}

func TestMockLineBusy(t *testing.T) {
	md := readyMock(t)

	first, err := md.ConnectOutput("Dev1/port0/line0:3")
	if err != nil {
		t.Fatalf("ConnectOutput returned err: %v", err)
	}

	_, err = md.ConnectOutput("Dev1/port0/line2")
	var de *DriverError
	if !errors.As(err, &de) || !errors.Is(err, ErrLineBusy) {
		t.Fatalf("got %v want DriverError with ErrLineBusy", err)
	}

	_, err = md.ConnectInput("Dev2/port0/line2")
	if err != nil {
		t.Errorf("other device line reported busy: %v", err)
	}

	first.Close()
	_, err = md.ConnectOutput("Dev1/port0/line2")
	if err != nil {
		t.Errorf("line still busy after release: %v", err)
	}
}

func TestMockFailOn(t *testing.T) {
	md := readyMock(t)
	fault := errors.New("device unplugged")

	md.FailOn(MockConnectInput, "Dev1/port1/line3", fault)
	_, err := md.ConnectInput("Dev1/port1/line3")
	if !errors.Is(err, fault) {
		t.Errorf("connect got %v want %v", err, fault)
	}

	out, _ := md.ConnectOutput("Dev1/port1/line0")
	md.FailOn(MockWrite, "Dev1/port1/line0", fault)
	err = out.Write(0xFF)
	var de *DriverError
	if !errors.As(err, &de) {
		t.Fatalf("got %T want *DriverError", err)
	}
	if de.Op != "write" || de.Line != "Dev1/port1/line0" {
		t.Errorf("got op %s line %s", de.Op, de.Line)
	}

	md.FailOn(MockWrite, "Dev1/port1/line0", nil)
	if err := out.Write(0xFF); err != nil {
		t.Errorf("write still failing after clear: %v", err)
	}
}

func TestMockMonitorStateChanges(t *testing.T) {
	md := readyMock(t)
	buf := &bytes.Buffer{}
	md.MonitorStateChanges(buf)

	out, _ := md.ConnectOutput("Dev1/port1/line0")
	out.Write(0xFF)
	out.Write(0xFF)
	out.Write(0x00)

	want := "[Dev1/port1/line0] state changed to 0xff\n[Dev1/port1/line0] state changed to 0x00\n"
	if buf.String() != want {
		t.Errorf("got %q want %q", buf.String(), want)
	}
}

func TestMockEventsOf(t *testing.T) {
	md := readyMock(t)

	out, _ := md.ConnectOutput("Dev1/port1/line0")
	in, _ := md.ConnectInput("Dev1/port1/line3")
	out.Write(0x00)
	in.Read()
	out.Close()

	assertInts(t, len(md.EventsOf(MockWrite)), 1)
	assertInts(t, len(md.EventsOf(MockWrite, MockRead)), 2)
	assertInts(t, len(md.EventsOf(MockClose)), 1)
}
