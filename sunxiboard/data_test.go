//go:build linux

package sunxiboard

import (
	"testing"

	"go.viam.com/test"

	"sunxi/pio"
)

func variantPair(t *testing.T, mainCompat, alwaysOnCompat string) (*pio.Variant, *pio.Variant) {
	t.Helper()
	mainVariant, ok := pio.VariantFor(mainCompat)
	test.That(t, ok, test.ShouldBeTrue)
	alwaysOnVariant, ok := pio.VariantFor(alwaysOnCompat)
	test.That(t, ok, test.ShouldBeTrue)
	return mainVariant, alwaysOnVariant
}

func TestPinTables(t *testing.T) {
	// Character device line numbers the kernel hands out for these pads,
	// straight from gpioinfo on the boards themselves.
	goldens := map[string]struct {
		mainCompat, alwaysOnCompat string
		mainLines, alwaysOnLines   map[string]int
	}{
		opi3lts: {
			mainCompat:     "allwinner,sun50i-h6-pinctrl",
			alwaysOnCompat: "allwinner,sun50i-h6-r-pinctrl",
			mainLines: map[string]int{
				"3": 122, "5": 121, "7": 118, "11": 120, "12": 114, "13": 119,
				"16": 111, "18": 112, "19": 229, "21": 230, "22": 117,
				"23": 228, "24": 227,
			},
			alwaysOnLines: map[string]int{"8": 2, "10": 3, "15": 10, "26": 8},
		},
		opiZero: {
			mainCompat:     "allwinner,sun8i-h3-pinctrl",
			alwaysOnCompat: "allwinner,sun8i-h3-r-pinctrl",
			mainLines: map[string]int{
				"3": 12, "5": 11, "7": 6, "8": 198, "10": 199, "11": 1,
				"12": 7, "13": 0, "15": 3, "16": 19, "18": 18, "19": 15,
				"21": 16, "22": 2, "23": 14, "24": 13, "26": 10,
			},
			alwaysOnLines: map[string]int{},
		},
	}

	for name, golden := range goldens {
		t.Run(name, func(t *testing.T) {
			def := boardDefinitions[name]
			test.That(t, def.Pins, test.ShouldHaveLength,
				len(golden.mainLines)+len(golden.alwaysOnLines))

			mainVariant, alwaysOnVariant := variantPair(t, golden.mainCompat, golden.alwaysOnCompat)

			seenNames := map[string]bool{}
			seenPads := map[string]bool{}
			for _, pinDef := range def.Pins {
				test.That(t, seenNames[pinDef.Name], test.ShouldBeFalse)
				seenNames[pinDef.Name] = true

				pad, err := pio.ParsePin(pinDef.Pad)
				test.That(t, err, test.ShouldBeNil)
				test.That(t, seenPads[pad.String()], test.ShouldBeFalse)
				seenPads[pad.String()] = true

				variant, want := mainVariant, golden.mainLines
				if mainVariant.Check(pad) != nil {
					test.That(t, alwaysOnVariant.Check(pad), test.ShouldBeNil)
					variant, want = alwaysOnVariant, golden.alwaysOnLines
				}

				line, ok := want[pinDef.Name]
				test.That(t, ok, test.ShouldBeTrue)
				test.That(t, variant.Line(pad), test.ShouldEqual, line)
			}
		})
	}
}

func TestPwmPins(t *testing.T) {
	var pwmPins []pinDefinition
	for _, pinDef := range boardDefinitions[opi3lts].Pins {
		if pinDef.PwmChipSysfsDir == "" {
			test.That(t, pinDef.PwmID, test.ShouldEqual, -1)
			continue
		}
		pwmPins = append(pwmPins, pinDef)
	}
	test.That(t, pwmPins, test.ShouldHaveLength, 1)
	test.That(t, pwmPins[0].Name, test.ShouldEqual, "7")
	test.That(t, pwmPins[0].Pad, test.ShouldEqual, "PD22")
	test.That(t, pwmPins[0].PwmChipSysfsDir, test.ShouldEqual, "300a000.pwm")
	test.That(t, pwmPins[0].PwmID, test.ShouldEqual, 0)

	// The Zero routes no PWM channel to its header.
	for _, pinDef := range boardDefinitions[opiZero].Pins {
		test.That(t, pinDef.PwmChipSysfsDir, test.ShouldBeEmpty)
	}
}

func TestBoardChips(t *testing.T) {
	// The H6's always-on block probes first, flipping the chip order
	// relative to the H3.
	test.That(t, boardDefinitions[opi3lts].MainGpioChip, test.ShouldEqual, "gpiochip1")
	test.That(t, boardDefinitions[opi3lts].AlwaysOnGpioChip, test.ShouldEqual, "gpiochip0")
	test.That(t, boardDefinitions[opiZero].MainGpioChip, test.ShouldEqual, "gpiochip0")
}
