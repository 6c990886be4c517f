//go:build linux

// Package sunxiboard implements Viam boards backed by Allwinner PIO pin
// controllers. This particular file defines the models' configuration
// attributes.
package sunxiboard

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/resource"

	"sunxi/pio"
)

// PinConfig asks for pad-level electrical setup at reconfiguration time.
type PinConfig struct {
	// Name is a header position ("11") or a pad name ("PD24").
	Name string `json:"name"`
	// Pull is "up", "down" or "none"; empty leaves the pad's bias alone.
	Pull string `json:"pull,omitempty"`
	// Drive sets the pad's output drive strength, level 0 through 3.
	Drive *int `json:"drive,omitempty"`
}

// Config describes a sunxi board.
type Config struct {
	Pins              []PinConfig                    `json:"pins,omitempty"`
	DigitalInterrupts []board.DigitalInterruptConfig `json:"digital_interrupts,omitempty"`

	// InputDebounceUS overrides the device tree's per-interrupt-bank
	// debounce intervals on the main controller, in microseconds. One
	// value per bank; a zero skips its bank.
	InputDebounceUS []uint32 `json:"input_debounce_us,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) ([]string, []string, error) {
	for idx, pc := range conf.Pins {
		pinPath := fmt.Sprintf("%s.%s.%d", path, "pins", idx)
		if pc.Name == "" {
			return nil, nil, resource.NewConfigValidationFieldRequiredError(pinPath, "name")
		}
		if _, err := parsePull(pc.Pull); pc.Pull != "" && err != nil {
			return nil, nil, errors.Wrap(err, pinPath)
		}
		if pc.Drive != nil && (*pc.Drive < 0 || *pc.Drive > 3) {
			return nil, nil, errors.Errorf("%s: drive level %d out of range 0 to 3", pinPath, *pc.Drive)
		}
	}

	for idx, ic := range conf.DigitalInterrupts {
		interruptPath := fmt.Sprintf("%s.%s.%d", path, "digital_interrupts", idx)
		if ic.Name == "" {
			return nil, nil, resource.NewConfigValidationFieldRequiredError(interruptPath, "name")
		}
		if ic.Pin == "" {
			return nil, nil, resource.NewConfigValidationFieldRequiredError(interruptPath, "pin")
		}
	}
	return nil, nil, nil
}

// CustomConfig additionally points at a definitions file carrying the
// board's pin table.
type CustomConfig struct {
	Config
	BoardDefsFilePath string `json:"board_defs_file_path"`
}

// Validate ensures all parts of the config are valid.
func (conf *CustomConfig) Validate(path string) ([]string, []string, error) {
	if conf.BoardDefsFilePath == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "board_defs_file_path")
	}
	if _, err := os.Stat(conf.BoardDefsFilePath); err != nil {
		return nil, nil, errors.Wrap(err, "board_defs_file_path")
	}
	return conf.Config.Validate(path)
}

func parsePull(s string) (pio.Pull, error) {
	switch s {
	case "up":
		return pio.PullUp, nil
	case "down":
		return pio.PullDown, nil
	case "none":
		return pio.PullNone, nil
	}
	return 0, errors.Errorf(`pull must be "up", "down" or "none", not %q`, s)
}
