//go:build linux

// Package sunxiboard implements Viam boards backed by Allwinner PIO pin
// controllers. This particular file loads a pin table from a definitions
// file, for boards the module has no built-in table for.
package sunxiboard

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"sunxi/pio"
)

type jsonPinDef struct {
	Name string `json:"name"`
	Pad  string `json:"pad"`

	PwmChipSysfsDir string `json:"pwm_chip_sysfs_dir,omitempty"`
	PwmID           *int   `json:"pwm_id,omitempty"`
}

type jsonPortDef struct {
	Port string `json:"port"`
	Pins int    `json:"pins"`
	// IrqBank is the interrupt bank this port's pads feed, if any.
	IrqBank *int `json:"irq_bank,omitempty"`
}

type jsonVariantDef struct {
	Compatible  string        `json:"compatible"`
	FirstPort   string        `json:"first_port,omitempty"`
	Ports       []jsonPortDef `json:"ports"`
	IrqBanks    int           `json:"irq_banks,omitempty"`
	IrqBankBase int           `json:"irq_bank_base,omitempty"`
	IrqBankMap  []int         `json:"irq_bank_map,omitempty"`
}

type jsonBoardDef struct {
	Model            string       `json:"model"`
	Compatibles      []string     `json:"compatibles,omitempty"`
	MainGpioChip     string       `json:"main_gpio_chip,omitempty"`
	AlwaysOnGpioChip string       `json:"always_on_gpio_chip,omitempty"`
	Pins             []jsonPinDef `json:"pins"`
	// Variant describes the board's pin controller when it's a generation
	// this module has no built-in geometry for.
	Variant *jsonVariantDef `json:"variant,omitempty"`
}

// readBoardDefsFile turns a definitions file into a board definition. An
// empty compatibles list skips the device tree identity check.
func readBoardDefsFile(path string) (boardDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return boardDefinition{}, err
	}

	var jsonDef jsonBoardDef
	if err := json.Unmarshal(data, &jsonDef); err != nil {
		return boardDefinition{}, errors.Wrapf(err, "parsing board definitions file %s", path)
	}

	def := boardDefinition{
		Model:            jsonDef.Model,
		Compats:          jsonDef.Compatibles,
		MainGpioChip:     jsonDef.MainGpioChip,
		AlwaysOnGpioChip: jsonDef.AlwaysOnGpioChip,
	}
	if def.Model == "" {
		def.Model = "custom board"
	}
	if def.MainGpioChip == "" {
		def.MainGpioChip = "gpiochip0"
	}
	if jsonDef.Variant != nil {
		variant, err := parseVariantDef(path, jsonDef.Variant)
		if err != nil {
			return boardDefinition{}, err
		}
		def.Variant = variant
	}

	for idx, jsonPin := range jsonDef.Pins {
		if jsonPin.Name == "" {
			return boardDefinition{}, errors.Errorf("%s: pin %d has no name", path, idx)
		}
		if _, err := pio.ParsePin(jsonPin.Pad); err != nil {
			return boardDefinition{}, errors.Wrapf(err, "%s: pin %s", path, jsonPin.Name)
		}

		pinDef := pinDefinition{
			Name:            jsonPin.Name,
			Pad:             jsonPin.Pad,
			PwmChipSysfsDir: jsonPin.PwmChipSysfsDir,
			PwmID:           -1,
		}
		if jsonPin.PwmID != nil {
			if jsonPin.PwmChipSysfsDir == "" {
				return boardDefinition{}, errors.Errorf(
					"%s: pin %s has a pwm_id but no pwm_chip_sysfs_dir", path, jsonPin.Name)
			}
			pinDef.PwmID = *jsonPin.PwmID
		}
		def.Pins = append(def.Pins, pinDef)
	}
	return def, nil
}

func portLetter(s string) (byte, bool) {
	if len(s) != 1 || s[0] < 'A' || s[0] > 'Z' {
		return 0, false
	}
	return s[0], true
}

// parseVariantDef builds controller geometry from a definitions file. The
// interrupt bank count follows from the ports unless given explicitly.
func parseVariantDef(path string, jsonVariant *jsonVariantDef) (*pio.Variant, error) {
	if jsonVariant.Compatible == "" {
		return nil, errors.Errorf("%s: variant has no compatible", path)
	}
	variant := &pio.Variant{
		Compatible:  jsonVariant.Compatible,
		FirstPort:   'A',
		IrqBanks:    jsonVariant.IrqBanks,
		IrqBankBase: jsonVariant.IrqBankBase,
		IrqBankMap:  jsonVariant.IrqBankMap,
	}
	if jsonVariant.FirstPort != "" {
		letter, ok := portLetter(jsonVariant.FirstPort)
		if !ok {
			return nil, errors.Errorf("%s: variant first_port %q isn't a port letter", path, jsonVariant.FirstPort)
		}
		variant.FirstPort = letter
	}
	if len(jsonVariant.Ports) == 0 {
		return nil, errors.Errorf("%s: variant %s has no ports", path, variant.Compatible)
	}

	maxBank := -1
	seen := map[byte]bool{}
	for _, jsonPort := range jsonVariant.Ports {
		letter, ok := portLetter(jsonPort.Port)
		if !ok {
			return nil, errors.Errorf("%s: variant port %q isn't a port letter", path, jsonPort.Port)
		}
		if letter < variant.FirstPort {
			return nil, errors.Errorf("%s: variant port P%c sits below first port P%c",
				path, letter, variant.FirstPort)
		}
		if seen[letter] {
			return nil, errors.Errorf("%s: variant lists port P%c twice", path, letter)
		}
		seen[letter] = true
		if jsonPort.Pins < 1 || jsonPort.Pins > 32 {
			return nil, errors.Errorf("%s: port P%c can't have %d pins", path, letter, jsonPort.Pins)
		}
		port := pio.PortInfo{Letter: letter, Pins: jsonPort.Pins, IrqBank: -1}
		if jsonPort.IrqBank != nil && *jsonPort.IrqBank >= 0 {
			port.IrqBank = *jsonPort.IrqBank
			if port.IrqBank > maxBank {
				maxBank = port.IrqBank
			}
		}
		variant.Ports = append(variant.Ports, port)
	}
	switch {
	case variant.IrqBanks == 0:
		variant.IrqBanks = maxBank + 1
	case maxBank >= variant.IrqBanks:
		return nil, errors.Errorf("%s: variant %s routes a port to bank %d but has %d interrupt banks",
			path, variant.Compatible, maxBank, variant.IrqBanks)
	}
	if variant.IrqBankMap != nil && len(variant.IrqBankMap) != variant.IrqBanks {
		return nil, errors.Errorf("%s: variant %s has %d interrupt banks but %d irq_bank_map entries",
			path, variant.Compatible, variant.IrqBanks, len(variant.IrqBankMap))
	}
	return variant, nil
}
