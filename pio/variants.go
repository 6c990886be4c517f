//go:build linux

// Package pio drives the register file of Allwinner PIO pin controllers.
// This particular file describes the controller generations we know the
// geometry of: which ports exist, how wide they are, and how the
// external-interrupt banks are numbered.
package pio

import "github.com/pkg/errors"

// PortInfo describes one GPIO port of a controller.
type PortInfo struct {
	Letter byte
	Pins   int
	// IrqBank is the controller-relative interrupt bank fed by this
	// port's pins, or -1 when the port has no interrupt capability.
	IrqBank int
}

// Variant is the geometry of one pin-controller generation, keyed by its
// devicetree compatible string.
type Variant struct {
	Compatible string
	// FirstPort is the letter backing register block zero and GPIO
	// character-device line zero ('A' on the main controllers, 'L' on the
	// always-on ones).
	FirstPort byte
	Ports     []PortInfo
	// IrqBanks counts the interrupt banks; debounce values are indexed by
	// this. Register addressing adds IrqBankBase, except on controllers
	// with an IrqBankMap, whose banks sit at discontiguous slots.
	IrqBanks    int
	IrqBankBase int
	IrqBankMap  []int
}

var variants = []*Variant{
	{
		Compatible: "allwinner,sun8i-h3-pinctrl",
		FirstPort:  'A',
		Ports: []PortInfo{
			{'A', 22, 0},
			{'C', 17, -1},
			{'D', 18, -1},
			{'E', 16, -1},
			{'F', 7, -1},
			{'G', 14, 1},
		},
		IrqBanks: 2,
	},
	{
		Compatible: "allwinner,sun8i-h3-r-pinctrl",
		FirstPort:  'L',
		Ports:      []PortInfo{{'L', 12, 0}},
		IrqBanks:   1,
	},
	{
		Compatible: "allwinner,sun50i-a64-pinctrl",
		FirstPort:  'A',
		Ports: []PortInfo{
			{'B', 10, 0},
			{'C', 17, -1},
			{'D', 25, -1},
			{'E', 18, -1},
			{'F', 7, -1},
			{'G', 14, 1},
			{'H', 12, 2},
		},
		IrqBanks: 3,
	},
	{
		Compatible: "allwinner,sun50i-a64-r-pinctrl",
		FirstPort:  'L',
		Ports:      []PortInfo{{'L', 13, 0}},
		IrqBanks:   1,
	},
	{
		Compatible: "allwinner,sun50i-h6-pinctrl",
		FirstPort:  'A',
		Ports: []PortInfo{
			{'C', 17, -1},
			{'D', 27, 0},
			{'F', 7, 1},
			{'G', 15, 2},
			{'H', 11, 3},
		},
		IrqBanks: 4,
		// The H6 dropped ports A and B but kept the bank slots its
		// EINT-capable ports would have had, except PD, which sits at
		// slot 1.
		IrqBankMap: []int{1, 5, 6, 7},
	},
	{
		Compatible: "allwinner,sun50i-h6-r-pinctrl",
		FirstPort:  'L',
		Ports: []PortInfo{
			{'L', 11, 0},
			{'M', 5, 1},
		},
		IrqBanks: 2,
	},
	// TODO: the D1 generation moved to 0x30-byte port blocks with four
	// drive registers; teach registers.go that layout before describing
	// any of those SoCs here.
}

// VariantFor returns the controller geometry matching any of the given
// compatible strings.
func VariantFor(compats ...string) (*Variant, bool) {
	for _, c := range compats {
		for _, v := range variants {
			if v.Compatible == c {
				return v, true
			}
		}
	}
	return nil, false
}

// Port returns the port with the given letter.
func (v *Variant) Port(letter byte) (PortInfo, bool) {
	for _, p := range v.Ports {
		if p.Letter == letter {
			return p, true
		}
	}
	return PortInfo{}, false
}

// Check reports whether the pin exists on this controller.
func (v *Variant) Check(p Pin) error {
	port, ok := v.Port(p.Port)
	if !ok {
		return errors.Errorf("%s: no port P%c on %s", p, p.Port, v.Compatible)
	}
	if p.Index < 0 || p.Index >= port.Pins {
		return errors.Errorf("%s: port P%c has %d pins", p, p.Port, port.Pins)
	}
	return nil
}

// Line returns the pin's offset on the controller's GPIO character device.
// Lines are spaced 32 per port whether or not the port is fully populated.
func (v *Variant) Line(p Pin) int {
	return int(p.Port-v.FirstPort)*32 + p.Index
}

// block returns the pin's register block index.
func (v *Variant) block(p Pin) uint32 {
	return uint32(p.Port - v.FirstPort)
}

// hwBank converts a controller-relative interrupt bank to its register slot.
func (v *Variant) hwBank(irqBank int) int {
	if v.IrqBankMap != nil {
		return v.IrqBankMap[irqBank]
	}
	return v.IrqBankBase + irqBank
}
