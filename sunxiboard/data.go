//go:build linux

// Package sunxiboard implements Viam boards backed by Allwinner PIO pin
// controllers. This particular file describes the boards we ship pin tables
// for.
package sunxiboard

import "sunxi/pio"

const (
	opiZero = "OrangePi Zero"
	opi3lts = "OrangePi 3 LTS"
)

// pinDefinition ties a header position to the pad wired to it. Character
// device line numbers follow from the pad name and the controller geometry,
// so a pin only carries extra data when the pad is driven by a hardware PWM
// channel.
type pinDefinition struct {
	Name string
	Pad  string
	// PwmChipSysfsDir names the PWM controller's sysfs device directory;
	// pads listed with one are claimed by the PWM block, not the GPIO
	// driver.
	PwmChipSysfsDir string
	PwmID           int
}

// boardDefinition is everything needed to bring up one supported board.
type boardDefinition struct {
	Model string
	// Compats identify the board by the device tree's root compatible
	// property. Empty means don't check (definitions loaded from a file).
	Compats []string
	// The GPIO character devices of the two PIO blocks. Probe order
	// differs between SoCs, so each board names its own.
	MainGpioChip     string
	AlwaysOnGpioChip string
	Pins             []pinDefinition
	// Variant describes a controller generation the pio package has no
	// built-in geometry for. Only definitions files set it.
	Variant *pio.Variant
}

var boardDefinitions = map[string]boardDefinition{
	opiZero: {
		Model:        opiZero,
		Compats:      []string{"xunlong,orangepi-zero", "allwinner,sun8i-h3"},
		MainGpioChip: "gpiochip0",
		// 26-pin header per the Xunlong schematic. The always-on block
		// exists on the H3 but none of its pads reach the header.
		AlwaysOnGpioChip: "gpiochip1",
		Pins: []pinDefinition{
			{Name: "3", Pad: "PA12", PwmID: -1},
			{Name: "5", Pad: "PA11", PwmID: -1},
			{Name: "7", Pad: "PA6", PwmID: -1},
			{Name: "8", Pad: "PG6", PwmID: -1},
			{Name: "10", Pad: "PG7", PwmID: -1},
			{Name: "11", Pad: "PA1", PwmID: -1},
			{Name: "12", Pad: "PA7", PwmID: -1},
			{Name: "13", Pad: "PA0", PwmID: -1},
			{Name: "15", Pad: "PA3", PwmID: -1},
			{Name: "16", Pad: "PA19", PwmID: -1},
			{Name: "18", Pad: "PA18", PwmID: -1},
			{Name: "19", Pad: "PA15", PwmID: -1},
			{Name: "21", Pad: "PA16", PwmID: -1},
			{Name: "22", Pad: "PA2", PwmID: -1},
			{Name: "23", Pad: "PA14", PwmID: -1},
			{Name: "24", Pad: "PA13", PwmID: -1},
			{Name: "26", Pad: "PA10", PwmID: -1},
		},
	},
	opi3lts: {
		Model:   opi3lts,
		Compats: []string{"xunlong,orangepi-3-lts", "allwinner,sun50i-h6"},
		// On the H6 the always-on block probes first.
		MainGpioChip:     "gpiochip1",
		AlwaysOnGpioChip: "gpiochip0",
		// OP 3 LTS user manual: https://drive.google.com/file/d/1jka7avWnzNeTIQFkk78LoJdygWaGH2iu/view
		// Gpio pins can be found on page 145.
		Pins: []pinDefinition{
			{Name: "3", Pad: "PD26", PwmID: -1},
			{Name: "5", Pad: "PD25", PwmID: -1},
			{Name: "7", Pad: "PD22", PwmChipSysfsDir: "300a000.pwm", PwmID: 0},
			{Name: "8", Pad: "PL2", PwmID: -1},
			{Name: "10", Pad: "PL3", PwmID: -1},
			{Name: "11", Pad: "PD24", PwmID: -1},
			{Name: "12", Pad: "PD18", PwmID: -1},
			{Name: "13", Pad: "PD23", PwmID: -1},
			{Name: "15", Pad: "PL10", PwmID: -1},
			{Name: "16", Pad: "PD15", PwmID: -1},
			{Name: "18", Pad: "PD16", PwmID: -1},
			{Name: "19", Pad: "PH5", PwmID: -1},
			{Name: "21", Pad: "PH6", PwmID: -1},
			{Name: "22", Pad: "PD21", PwmID: -1},
			{Name: "23", Pad: "PH4", PwmID: -1},
			{Name: "24", Pad: "PH3", PwmID: -1},
			{Name: "26", Pad: "PL8", PwmID: -1},
		},
	},
}
