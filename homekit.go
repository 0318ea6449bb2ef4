package procket

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	dnslog "github.com/brutella/dnssd/log"
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	hklog "github.com/brutella/hap/log"
	"github.com/pkg/errors"
)

const (
	defaultHomeKitDirectory = "./homekit"
	homeKitManufacturer     = "hubertat"
)

// HkSwitch exposes a group of outputs on one expander as a HomeKit switch.
// The switch is on when every output of the group is enabled.
type HkSwitch struct {
	Name     string
	Expander uint8
	Targets  []string

	ex      Expander
	targets []Target
	fixture *Fixture
	hk      *accessory.Switch

	lock sync.Mutex
}

func (sw *HkSwitch) GetUniqueId() uint64 {
	hash := fnv.New64()
	hash.Write([]byte("Switch_" + sw.Name))
	return hash.Sum64()
}

func (sw *HkSwitch) Init(fx *Fixture) error {
	sw.ex = Expander(sw.Expander)
	err := checkExpander(sw.ex, ExpanderConnectors, ExpanderPower, ExpanderRelays, ExpanderDut)
	if err != nil {
		return err
	}

	sw.targets = nil
	for _, name := range sw.Targets {
		target, err := ParseTarget(sw.ex, name)
		if err != nil {
			return errors.Wrapf(err, "switch %s", sw.Name)
		}
		sw.targets = append(sw.targets, target)
	}
	if len(sw.targets) == 0 {
		return &ConfigurationError{Field: "HomeKit.Targets", Value: sw.Name, Reason: "switch without outputs"}
	}

	sw.fixture = fx
	sw.hk = accessory.NewSwitch(accessory.Info{
		Name:         sw.Name,
		SerialNumber: fmt.Sprintf("switch:%d:%s", sw.Expander, strings.Join(sw.Targets, ",")),
		Manufacturer: homeKitManufacturer,
	})
	sw.hk.Switch.On.OnValueRemoteUpdate(sw.SetValue)
	return nil
}

func (sw *HkSwitch) GetHk() *accessory.A {
	if sw.hk == nil {
		return nil
	}
	return sw.hk.A
}

// set drives the group through the operation owning its expander.
func (sw *HkSwitch) set(on bool) error {
	fx := sw.fixture
	switch sw.ex {
	case ExpanderPower, ExpanderDut:
		if on {
			return fx.PowerUp(sw.ex, sw.targets...)
		}
		return fx.PowerDown(sw.ex, sw.targets...)
	case ExpanderConnectors:
		if on {
			return fx.SetConnectorPins(sw.ex, sw.targets...)
		}
		return fx.ResetConnectorPins(sw.ex, sw.targets...)
	case ExpanderRelays:
		if on {
			return fx.SetRelays(sw.ex, sw.targets...)
		}
		return fx.ResetRelays(sw.ex, sw.targets...)
	}
	return checkExpander(sw.ex)
}

// SetValue is the remote update handler. A failed bus write puts the
// switch back to what the register cache says.
func (sw *HkSwitch) SetValue(on bool) {
	err := sw.set(on)
	if err != nil {
		sw.fixture.Logger.Error("homekit switch failed", "switch", sw.Name, "on", on, "err", err)
	}
	sw.Sync()
}

// IsOn tells whether every output of the group is enabled in state.
func (sw *HkSwitch) IsOn(state State) bool {
	register := *state.register(sw.ex)
	for _, target := range sw.targets {
		if register&^target.Mask() != 0 {
			return false
		}
	}
	return true
}

func (sw *HkSwitch) Sync() {
	sw.lock.Lock()
	defer sw.lock.Unlock()

	on := sw.IsOn(sw.fixture.State())
	if sw.hk.Switch.On.Value() != on {
		sw.hk.Switch.On.SetValue(on)
	}
}

func (pr *Procket) InitHomeKit() error {
	names := map[string]bool{}
	for _, sw := range pr.HomeKit {
		if names[sw.Name] {
			return &ConfigurationError{Field: "HomeKit.Name", Value: sw.Name, Reason: "duplicate switch name"}
		}
		names[sw.Name] = true

		err := sw.Init(pr.fixture)
		if err != nil {
			return errors.Wrap(err, "failed to init homekit switch")
		}
	}
	return nil
}

// SyncHomeKit refreshes every switch from the register cache.
func (pr *Procket) SyncHomeKit() {
	for _, sw := range pr.HomeKit {
		if sw.hk != nil {
			sw.Sync()
		}
	}
}

func (pr *Procket) GetHkAccessories(firmwareVersion string) (acc []*accessory.A) {
	acc = []*accessory.A{}

	for _, sw := range pr.HomeKit {
		a := sw.GetHk()
		if a == nil {
			continue
		}
		if a.Info != nil && a.Info.FirmwareRevision != nil {
			a.Info.FirmwareRevision.SetValue(firmwareVersion)
		}
		a.Id = sw.GetUniqueId()
		acc = append(acc, a)
	}

	return
}

func (pr *Procket) StartHomeKit(ctx context.Context, firmwareVersion string) error {
	bridge := accessory.NewBridge(accessory.Info{
		Name:         pr.GetName(),
		Manufacturer: homeKitManufacturer,
		Firmware:     firmwareVersion,
	})

	directory := pr.HkDirectory
	if len(directory) == 0 {
		directory = defaultHomeKitDirectory
	}
	store := hap.NewFsStore(directory)

	hkServer, err := hap.NewServer(store, bridge.A, pr.GetHkAccessories(firmwareVersion)...)
	if err != nil {
		return errors.Wrap(err, "failed to create HomeKit server")
	}
	hkServer.Pin = pr.HkPin
	if len(pr.HkAddress) > 0 {
		hkServer.Addr = pr.HkAddress
	}

	if pr.HkDebug {
		hklog.Debug.Enable()
		dnslog.Debug.Enable()
	}

	pr.getLogger().Info("homekit bridge starting", "switches", len(pr.HomeKit), "store", directory)
	return hkServer.ListenAndServe(ctx)
}
