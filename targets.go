package procket

import (
	"fmt"
	"strings"
)

// Expander identifies one of the fixture's 8-bit I2C IO expanders by the
// id used in the fixture schema.
type Expander uint8

const (
	ExpanderConnectors Expander = 1
	ExpanderPower      Expander = 2
	ExpanderRelays     Expander = 3
	ExpanderDut        Expander = 4
)

// Bus addresses, already shifted to the 8-bit form sent after START.
const (
	addressConnectors  byte = 0x72
	addressPower       byte = 0x44
	addressRelays      byte = 0x76
	addressDut         byte = 0x48
	addressInputPins   byte = 0x75
	addressPowerStatus byte = 0x43
	addressMemoryWrite byte = 0xA0
	addressMemoryRead  byte = 0xA1
)

// Target is one named output (or output group) of an expander. Mask has the
// target's bits cleared; the outputs are active low.
type Target interface {
	fmt.Stringer
	Mask() byte
	Expander() Expander
}

type targetName struct {
	name string
	mask byte
}

type PowerOutput uint8

const (
	Plus24V PowerOutput = iota
	Plus5V
	Plus3V3
	Plus1V8
	OutputLevelShift
	PowerAll
)

var powerOutputs = []targetName{
	{"+24V_ENABLE", 0xFE},
	{"+5V_ENABLE", 0xFD},
	{"+3V3_ENABLE", 0xFB},
	{"+1V8_ENABLE", 0xF7},
	{"OUTPUT_LVLSHFT_EN", 0xEF},
	{"ALL", 0xE0},
}

func (po PowerOutput) String() string     { return nameOf(powerOutputs, uint8(po), "PowerOutput") }
func (po PowerOutput) Mask() byte         { return maskOf(powerOutputs, uint8(po)) }
func (po PowerOutput) Expander() Expander { return ExpanderPower }

type DutOutput uint8

const (
	Opto1 DutOutput = iota
	Opto2
	Opto3
	Opto4
	RS232
	Programmer
	DutPower1
	DutPower2
	DutAll
)

var dutOutputs = []targetName{
	{"OPTO1_CTRL", 0xFE},
	{"OPTO2_CTRL", 0xFD},
	{"OPTO3_CTRL", 0xFB},
	{"OPTO4_CTRL", 0xF7},
	{"RS-232_EN", 0xEF},
	{"PROGRAMMER_EN", 0xDF},
	{"DUT_PWR1_EN", 0xBF},
	{"DUT_PWR2_EN", 0x7F},
	{"ALL", 0x00},
}

func (do DutOutput) String() string     { return nameOf(dutOutputs, uint8(do), "DutOutput") }
func (do DutOutput) Mask() byte         { return maskOf(dutOutputs, uint8(do)) }
func (do DutOutput) Expander() Expander { return ExpanderDut }

type ConnectorPin uint8

const (
	X120_1 ConnectorPin = iota
	X120_2
	X120_3
	X120_4
	X120All
	X121_1
	X121_2
	X121_3
	X121_4
	X121All
	PinsAll
)

var connectorPins = []targetName{
	{"X120-1", 0xFE},
	{"X120-2", 0xFD},
	{"X120-3", 0xFB},
	{"X120-4", 0xF7},
	{"X120-ALL", 0xF0},
	{"X121-1", 0xEF},
	{"X121-2", 0xDF},
	{"X121-3", 0xBF},
	{"X121-4", 0x7F},
	{"X121-ALL", 0x0F},
	{"ALL", 0x00},
}

func (cp ConnectorPin) String() string     { return nameOf(connectorPins, uint8(cp), "ConnectorPin") }
func (cp ConnectorPin) Mask() byte         { return maskOf(connectorPins, uint8(cp)) }
func (cp ConnectorPin) Expander() Expander { return ExpanderConnectors }

type Relay uint8

const (
	Relay0 Relay = iota
	Relay1
	Relay2
	Relay3
	Relay4
	Relay5
	Relay6
	Relay7
	RelaysAll
)

// masks as wired on the fixture; relay 4 switches the whole upper nibble
var relays = []targetName{
	{"EXP0_A76_0", 0xFE},
	{"EXP0_A76_1", 0xFD},
	{"EXP0_A76_2", 0xFB},
	{"EXP0_A76_3", 0xF7},
	{"EXP0_A76_4", 0xF0},
	{"EXP0_A76_5", 0xEF},
	{"EXP0_A76_6", 0xDF},
	{"EXP0_A76_7", 0xBF},
	{"ALL", 0x00},
}

func (re Relay) String() string     { return nameOf(relays, uint8(re), "Relay") }
func (re Relay) Mask() byte         { return maskOf(relays, uint8(re)) }
func (re Relay) Expander() Expander { return ExpanderRelays }

// PowerRail is a bit of the power status register.
type PowerRail uint8

const (
	Rail5V PowerRail = iota
	Rail15V
	RailMinus15V
	Rail1V8
	Rail3V3
	Rail5VA
	SuppliesOK
)

var powerRails = []targetName{
	{"+5V", 0x20},
	{"+15V", 0x10},
	{"-15V", 0x08},
	{"+1V8", 0x04},
	{"+3V3", 0x02},
	{"+5VA", 0x01},
	{"SUPPLIES_OK", 0x40},
}

func (pr PowerRail) String() string { return nameOf(powerRails, uint8(pr), "PowerRail") }

// Bit is the rail's bit in the status register (active high, unlike outputs).
func (pr PowerRail) Bit() byte {
	if int(pr) >= len(powerRails) {
		return 0
	}
	return powerRails[pr].mask
}

// RailsOn lists the rails whose status bit is set, in register table order.
func RailsOn(status byte) (rails []PowerRail) {
	for i := range powerRails {
		rail := PowerRail(i)
		if status&rail.Bit() != 0 {
			rails = append(rails, rail)
		}
	}
	return
}

func nameOf(table []targetName, i uint8, kind string) string {
	if int(i) >= len(table) {
		return fmt.Sprintf("%s(%d)", kind, i)
	}
	return table[i].name
}

// maskOf maps unknown values to 0xFF, which leaves a register untouched.
func maskOf(table []targetName, i uint8) byte {
	if int(i) >= len(table) {
		return 0xFF
	}
	return table[i].mask
}

type expanderInfo struct {
	address byte
	table   []targetName
	target  func(i uint8) Target
}

var expanders = map[Expander]expanderInfo{
	ExpanderConnectors: {addressConnectors, connectorPins, func(i uint8) Target { return ConnectorPin(i) }},
	ExpanderPower:      {addressPower, powerOutputs, func(i uint8) Target { return PowerOutput(i) }},
	ExpanderRelays:     {addressRelays, relays, func(i uint8) Target { return Relay(i) }},
	ExpanderDut:        {addressDut, dutOutputs, func(i uint8) Target { return DutOutput(i) }},
}

func (ex Expander) String() string {
	return fmt.Sprintf("expander %d", uint8(ex))
}

// Address is the expander's bus address, zero when the id is unknown.
func (ex Expander) Address() byte {
	return expanders[ex].address
}

// ParseTarget looks a schema name up among the outputs of expander ex.
// Names are matched case-insensitively.
func ParseTarget(ex Expander, name string) (Target, error) {
	info, known := expanders[ex]
	if !known {
		return nil, &ConfigurationError{Field: "expander", Value: fmt.Sprint(uint8(ex))}
	}

	for i, entry := range info.table {
		if strings.EqualFold(entry.name, strings.TrimSpace(name)) {
			return info.target(uint8(i)), nil
		}
	}

	return nil, &ConfigurationError{Field: "target", Value: name, Reason: fmt.Sprintf("no such output on %s", ex)}
}

// TargetNames lists the schema names of expander ex.
func TargetNames(ex Expander) (names []string) {
	for _, entry := range expanders[ex].table {
		names = append(names, entry.name)
	}
	return
}
