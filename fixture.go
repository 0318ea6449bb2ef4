package procket

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/procket/bitbang"
	"github.com/hubertat/procket/drivers"
)

const defaultDevice = "Dev2"

// Session is an open I2C bus: the byte primitives plus releasing the lines.
type Session interface {
	bitbang.Master
	Disconnect() error
}

// State caches the last register value written to every output expander.
// All outputs are active low, 0xFF is everything off.
type State struct {
	Connectors byte `json:"connectors"`
	Power      byte `json:"power"`
	Relays     byte `json:"relays"`
	Dut        byte `json:"dut"`
}

func NewState() State {
	return State{Connectors: 0xFF, Power: 0xFF, Relays: 0xFF, Dut: 0xFF}
}

func (st *State) register(ex Expander) *byte {
	switch ex {
	case ExpanderConnectors:
		return &st.Connectors
	case ExpanderPower:
		return &st.Power
	case ExpanderRelays:
		return &st.Relays
	case ExpanderDut:
		return &st.Dut
	}
	return nil
}

// Fixture controls one Procket board through a bit-banged I2C bus.
// The register cache lives in the Fixture value itself, every Fixture
// starts from NewState.
type Fixture struct {
	Device   string
	SdaWrite string
	SdaRead  string
	Scl      string

	Logger *log.Logger

	driver drivers.LineDriver
	open   func() (Session, error)
	state  State
	lock   sync.Mutex
}

// NewFixture wires a fixture to driver. Empty line ids default to
// <device>/port1/line2 (SDA write), line3 (SDA read) and line0 (SCL).
func NewFixture(driver drivers.LineDriver, device, sdaWrite, sdaRead, scl string) *Fixture {
	if len(device) == 0 {
		device = defaultDevice
	}
	fx := &Fixture{
		Device:   device,
		SdaWrite: withDefault(sdaWrite, fmt.Sprintf("%s/port1/line2", device)),
		SdaRead:  withDefault(sdaRead, fmt.Sprintf("%s/port1/line3", device)),
		Scl:      withDefault(scl, fmt.Sprintf("%s/port1/line0", device)),
		Logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "procket",
			Level:  log.GetLevel(),
		}),
		driver: driver,
		state:  NewState(),
	}
	fx.open = fx.connectBus
	return fx
}

func withDefault(value, fallback string) string {
	if len(strings.TrimSpace(value)) == 0 {
		return fallback
	}
	return value
}

func (fx *Fixture) connectBus() (Session, error) {
	bus, err := bitbang.Connect(fx.driver, fx.SdaWrite, fx.SdaRead, fx.Scl)
	if err != nil {
		return nil, err
	}
	return bus, nil
}

// State returns a copy of the cached registers.
func (fx *Fixture) State() State {
	fx.lock.Lock()
	defer fx.lock.Unlock()

	return fx.state
}

// transact runs frame on a freshly connected bus and always disconnects.
func (fx *Fixture) transact(frame func(m bitbang.Master) error) (err error) {
	session, err := fx.open()
	if err != nil {
		return errors.Wrap(err, "failed to connect i2c bus")
	}

	defer func() {
		closeErr := session.Disconnect()
		if closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, "failed to disconnect i2c bus")
		}
	}()

	err = frame(session)
	return
}

// abort sends the STOP that returns the bus to idle after a failed frame.
// Its own error is only logged, the frame error is what callers get.
func (fx *Fixture) abort(m bitbang.Master) {
	err := m.Stop()
	if err != nil {
		fx.Logger.Debug("stop after failed frame", "err", err)
	}
}

// writeFrame sends START, address, data, STOP. On any failure it still tries
// to STOP so the bus is back to idle, and returns the original error.
func (fx *Fixture) writeFrame(m bitbang.Master, address byte, data ...byte) error {
	err := m.Start()
	if err != nil {
		return err
	}

	for _, b := range append([]byte{address}, data...) {
		err = m.SendByte(b)
		if err != nil {
			fx.abort(m)
			return errors.Wrapf(err, "writing %#04x to %#04x", b, address)
		}
	}

	return m.Stop()
}

// readFrame sends START and address, receives one byte and sends STOP.
func (fx *Fixture) readFrame(m bitbang.Master, address byte) (data byte, err error) {
	err = m.Start()
	if err != nil {
		return
	}

	err = m.SendByte(address)
	if err != nil {
		fx.abort(m)
		err = errors.Wrapf(err, "addressing %#04x", address)
		return
	}

	data, err = m.ReceiveByte()
	if err != nil {
		fx.abort(m)
		err = errors.Wrapf(err, "reading from %#04x", address)
		return
	}

	err = m.Stop()
	return
}

func checkExpander(ex Expander, allowed ...Expander) error {
	for _, ok := range allowed {
		if ex == ok {
			return nil
		}
	}
	return &ConfigurationError{Field: "expander", Value: fmt.Sprint(uint8(ex)), Reason: fmt.Sprintf("want one of %v", allowed)}
}

// update applies targets to the cached register of ex and writes it out when
// it changed. The cache follows only after a successful write.
func (fx *Fixture) update(ex Expander, enable bool, targets []Target) error {
	fx.lock.Lock()
	defer fx.lock.Unlock()

	register := fx.state.register(ex)
	current := *register
	setting := current

	for _, target := range targets {
		if target == nil || target.Expander() != ex {
			fx.Logger.Warn("attempt to use nonexistent output", "output", target, "expander", uint8(ex))
			continue
		}
		if enable {
			setting = setting & target.Mask()
		} else {
			setting = setting | (target.Mask() ^ 0xFF)
		}
	}

	if setting == current {
		fx.Logger.Debug("register unchanged, skipping bus", "expander", uint8(ex), "value", setting)
		return nil
	}

	err := fx.transact(func(m bitbang.Master) error {
		return fx.writeFrame(m, ex.Address(), setting)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to update %s", ex)
	}

	*register = setting
	fx.Logger.Info("expander updated", "expander", uint8(ex), "value", fmt.Sprintf("%#04x", setting))
	return nil
}

// PowerUp enables power outputs of expander 2 or 4.
func (fx *Fixture) PowerUp(ex Expander, targets ...Target) error {
	if err := checkExpander(ex, ExpanderPower, ExpanderDut); err != nil {
		return err
	}
	return fx.update(ex, true, targets)
}

// PowerDown disables power outputs of expander 2 or 4.
func (fx *Fixture) PowerDown(ex Expander, targets ...Target) error {
	if err := checkExpander(ex, ExpanderPower, ExpanderDut); err != nil {
		return err
	}
	return fx.update(ex, false, targets)
}

// SetConnectorPins enables X120/X121 outputs of expander 1.
func (fx *Fixture) SetConnectorPins(ex Expander, targets ...Target) error {
	if err := checkExpander(ex, ExpanderConnectors); err != nil {
		return err
	}
	return fx.update(ex, true, targets)
}

func (fx *Fixture) ResetConnectorPins(ex Expander, targets ...Target) error {
	if err := checkExpander(ex, ExpanderConnectors); err != nil {
		return err
	}
	return fx.update(ex, false, targets)
}

// SetRelays closes general purpose relays of expander 3.
func (fx *Fixture) SetRelays(ex Expander, targets ...Target) error {
	if err := checkExpander(ex, ExpanderRelays); err != nil {
		return err
	}
	return fx.update(ex, true, targets)
}

func (fx *Fixture) ResetRelays(ex Expander, targets ...Target) error {
	if err := checkExpander(ex, ExpanderRelays); err != nil {
		return err
	}
	return fx.update(ex, false, targets)
}

// ReadConnectorPins reads the X122/X123 input pins; only expander 2 has them.
func (fx *Fixture) ReadConnectorPins(ex Expander) (data byte, err error) {
	err = checkExpander(ex, ExpanderPower)
	if err != nil {
		return
	}

	fx.lock.Lock()
	defer fx.lock.Unlock()

	err = fx.transact(func(m bitbang.Master) (frameErr error) {
		data, frameErr = fx.readFrame(m, addressInputPins)
		return
	})
	if err != nil {
		err = errors.Wrap(err, "failed to read connector pins")
	}
	return
}

// PowerStatus reads the supply monitor and logs every rail that is on.
func (fx *Fixture) PowerStatus() (rails []PowerRail, err error) {
	fx.lock.Lock()
	defer fx.lock.Unlock()

	var status byte
	err = fx.transact(func(m bitbang.Master) (frameErr error) {
		status, frameErr = fx.readFrame(m, addressPowerStatus)
		return
	})
	if err != nil {
		err = errors.Wrap(err, "failed to read power status")
		return
	}

	rails = RailsOn(status)
	fx.Logger.Info("powers ON:")
	for _, rail := range rails {
		fx.Logger.Info(rail.String())
	}
	return
}

// Up brings the fixture to its suite start state: both power expanders
// off, then +24V on.
func (fx *Fixture) Up() error {
	fx.lock.Lock()
	defer fx.lock.Unlock()

	err := fx.transact(func(m bitbang.Master) error {
		for _, address := range []byte{addressPower, addressDut} {
			err := fx.writeFrame(m, address, 0xFF)
			if err != nil {
				return err
			}
		}
		return fx.writeFrame(m, addressPower, Plus24V.Mask())
	})
	if err != nil {
		return errors.Wrap(err, "fixture power up failed")
	}

	fx.state.Power = Plus24V.Mask()
	fx.state.Dut = 0xFF
	fx.Logger.Info("fixture up")
	return nil
}

// Down switches off every output of both power expanders.
func (fx *Fixture) Down() error {
	fx.lock.Lock()
	defer fx.lock.Unlock()

	err := fx.transact(func(m bitbang.Master) error {
		for _, address := range []byte{addressPower, addressDut} {
			err := fx.writeFrame(m, address, 0xFF)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "fixture power down failed")
	}

	fx.state.Power = 0xFF
	fx.state.Dut = 0xFF
	fx.Logger.Info("fixture down")
	return nil
}

// ParseTargets converts schema names for expander ex. Unknown names are
// logged and skipped.
func (fx *Fixture) ParseTargets(ex Expander, names ...string) (targets []Target) {
	for _, name := range names {
		target, err := ParseTarget(ex, name)
		if err != nil {
			fx.Logger.Warn("attempt to use nonexistent output", "output", name, "expander", uint8(ex))
			continue
		}
		targets = append(targets, target)
	}
	return
}
