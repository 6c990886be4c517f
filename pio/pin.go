//go:build linux

// Package pio drives the register file of Allwinner PIO pin controllers.
// This particular file is for pin naming: pads are addressed "PG7" style,
// port letter then index, the way the datasheets and schematics name them.
package pio

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// Pin identifies one pad by port letter and index within the port.
type Pin struct {
	Port  byte
	Index int
}

// ParsePin parses a datasheet-style pad name such as "PG7" or "pl2".
func ParsePin(name string) (Pin, error) {
	if len(name) < 3 || (name[0] != 'P' && name[0] != 'p') {
		return Pin{}, errors.Errorf("invalid pin name %q (want e.g. \"PG7\")", name)
	}
	letter := name[1]
	if letter >= 'a' && letter <= 'z' {
		letter -= 'a' - 'A'
	}
	if letter < 'A' || letter > 'Z' {
		return Pin{}, errors.Errorf("invalid pin name %q (want e.g. \"PG7\")", name)
	}
	index, err := strconv.Atoi(name[2:])
	if err != nil || index < 0 || index >= 32 {
		return Pin{}, errors.Errorf("invalid pin name %q (want e.g. \"PG7\")", name)
	}
	return Pin{Port: letter, Index: index}, nil
}

func (p Pin) String() string {
	return fmt.Sprintf("P%c%d", p.Port, p.Index)
}
