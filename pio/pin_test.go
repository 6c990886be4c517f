//go:build linux

package pio

import (
	"testing"

	"go.viam.com/test"
)

func TestParsePin(t *testing.T) {
	p, err := ParsePin("PG7")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldResemble, Pin{Port: 'G', Index: 7})
	test.That(t, p.String(), test.ShouldEqual, "PG7")

	p, err = ParsePin("pl2")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldResemble, Pin{Port: 'L', Index: 2})
	test.That(t, p.String(), test.ShouldEqual, "PL2")

	p, err = ParsePin("PD26")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldResemble, Pin{Port: 'D', Index: 26})

	for _, bad := range []string{"", "P", "PG", "G7", "P77", "PGx", "PG32", "PG-1"} {
		_, err := ParsePin(bad)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestVariantFor(t *testing.T) {
	v, ok := VariantFor("allwinner,sun50i-h6-pinctrl")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v.IrqBanks, test.ShouldEqual, 4)

	// Callers may offer several compatible strings; the first known one
	// wins.
	v, ok = VariantFor("some,future-soc", "allwinner,sun8i-h3-pinctrl")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v.Compatible, test.ShouldEqual, "allwinner,sun8i-h3-pinctrl")

	_, ok = VariantFor("allwinner,sun4i-a10-pinctrl")
	test.That(t, ok, test.ShouldBeFalse)
}

func TestVariantCheck(t *testing.T) {
	h6, ok := VariantFor("allwinner,sun50i-h6-pinctrl")
	test.That(t, ok, test.ShouldBeTrue)

	test.That(t, h6.Check(Pin{'D', 26}), test.ShouldBeNil)
	test.That(t, h6.Check(Pin{'D', 27}), test.ShouldNotBeNil)
	test.That(t, h6.Check(Pin{'A', 0}), test.ShouldNotBeNil)
	test.That(t, h6.Check(Pin{'L', 0}), test.ShouldNotBeNil)

	r, ok := VariantFor("allwinner,sun50i-h6-r-pinctrl")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, r.Check(Pin{'L', 10}), test.ShouldBeNil)
	test.That(t, r.Check(Pin{'M', 4}), test.ShouldBeNil)
	test.That(t, r.Check(Pin{'M', 5}), test.ShouldNotBeNil)
}

func TestVariantLine(t *testing.T) {
	a64, ok := VariantFor("allwinner,sun50i-a64-pinctrl")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, a64.Line(Pin{'B', 3}), test.ShouldEqual, 35)
	test.That(t, a64.Line(Pin{'H', 8}), test.ShouldEqual, 232)

	h6, ok := VariantFor("allwinner,sun50i-h6-pinctrl")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, h6.Line(Pin{'D', 26}), test.ShouldEqual, 122)

	r, ok := VariantFor("allwinner,sun50i-h6-r-pinctrl")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, r.Line(Pin{'L', 8}), test.ShouldEqual, 8)
	test.That(t, r.Line(Pin{'M', 2}), test.ShouldEqual, 34)
}

func TestVariantHwBank(t *testing.T) {
	a64, ok := VariantFor("allwinner,sun50i-a64-pinctrl")
	test.That(t, ok, test.ShouldBeTrue)
	for bank := 0; bank < a64.IrqBanks; bank++ {
		test.That(t, a64.hwBank(bank), test.ShouldEqual, bank)
	}

	h6, ok := VariantFor("allwinner,sun50i-h6-pinctrl")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, h6.hwBank(0), test.ShouldEqual, 1)
	test.That(t, h6.hwBank(1), test.ShouldEqual, 5)
	test.That(t, h6.hwBank(2), test.ShouldEqual, 6)
	test.That(t, h6.hwBank(3), test.ShouldEqual, 7)

	// Controllers whose banks start above slot zero add the base.
	offset := &Variant{IrqBanks: 2, IrqBankBase: 1}
	test.That(t, offset.hwBank(0), test.ShouldEqual, 1)
	test.That(t, offset.hwBank(1), test.ShouldEqual, 2)
}
