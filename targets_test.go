package procket

import (
	"testing"

	"github.com/pkg/errors"
)

func TestTargetMasks(t *testing.T) {
	cases := []struct {
		target   Target
		name     string
		mask     byte
		expander Expander
	}{
		{Plus24V, "+24V_ENABLE", 0xFE, ExpanderPower},
		{OutputLevelShift, "OUTPUT_LVLSHFT_EN", 0xEF, ExpanderPower},
		{PowerAll, "ALL", 0xE0, ExpanderPower},
		{RS232, "RS-232_EN", 0xEF, ExpanderDut},
		{DutPower2, "DUT_PWR2_EN", 0x7F, ExpanderDut},
		{X120All, "X120-ALL", 0xF0, ExpanderConnectors},
		{X121_1, "X121-1", 0xEF, ExpanderConnectors},
		{X121All, "X121-ALL", 0x0F, ExpanderConnectors},
		{Relay4, "EXP0_A76_4", 0xF0, ExpanderRelays},
		{Relay7, "EXP0_A76_7", 0xBF, ExpanderRelays},
		{RelaysAll, "ALL", 0x00, ExpanderRelays},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if c.target.String() != c.name {
				t.Errorf("got %s want %s", c.target, c.name)
			}
			assertByte(t, c.target.Mask(), c.mask)
			if c.target.Expander() != c.expander {
				t.Errorf("got %v want %v", c.target.Expander(), c.expander)
			}
		})
	}
}

func TestUnknownTargetValueIsNoop(t *testing.T) {
	unknown := Relay(42)

	assertByte(t, unknown.Mask(), 0xFF)
	if unknown.String() != "Relay(42)" {
		t.Errorf("got %s want Relay(42)", unknown)
	}
}

func TestParseTarget(t *testing.T) {
	target, err := ParseTarget(ExpanderDut, "programmer_en")
	if err != nil {
		t.Fatal(err)
	}
	if target != Programmer {
		t.Errorf("got %v want %v", target, Programmer)
	}

	_, err = ParseTarget(ExpanderDut, "+24V_ENABLE")
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Errorf("got %v want ConfigurationError", err)
	}

	_, err = ParseTarget(Expander(0), "ALL")
	if !errors.As(err, &confErr) || confErr.Field != "expander" {
		t.Errorf("got %v want expander ConfigurationError", err)
	}
}

func TestExpanderAddresses(t *testing.T) {
	want := map[Expander]byte{
		ExpanderConnectors: 0x72,
		ExpanderPower:      0x44,
		ExpanderRelays:     0x76,
		ExpanderDut:        0x48,
		Expander(7):        0x00,
	}
	for ex, address := range want {
		assertByte(t, ex.Address(), address)
	}

	if len(TargetNames(ExpanderConnectors)) != 11 {
		t.Errorf("got %v", TargetNames(ExpanderConnectors))
	}
}

func TestRailsOn(t *testing.T) {
	if rails := RailsOn(0x00); len(rails) != 0 {
		t.Errorf("got %v want none", rails)
	}
	if rails := RailsOn(0x7F); len(rails) != 7 {
		t.Errorf("got %v want all 7", rails)
	}
	if rails := RailsOn(0x80); len(rails) != 0 {
		t.Errorf("got %v want none", rails)
	}
	assertByte(t, RailMinus15V.Bit(), 0x08)
}
