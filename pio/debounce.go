//go:build linux

// Package pio drives the register file of Allwinner PIO pin controllers.
// This particular file programs the per-bank interrupt debounce prescalers:
// each external-interrupt bank samples its pins from one of two reference
// oscillators through a power-of-two divisor, and the devicetree asks for a
// debounce interval per bank in microseconds.
package pio

import (
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"

	"sunxi/devicetree"
)

var (
	// ErrClockNotFound means a controller that should carry both
	// reference oscillators is missing one.
	ErrClockNotFound = errors.New("reference clock not found")
	// ErrMalformedConfig means the input-debounce property exists but
	// can't supply a value for every interrupt bank.
	ErrMalformedConfig = errors.New("malformed input-debounce property")
)

// Canonical reference rates across the sunxi line, used when a provider
// node doesn't declare its own.
const (
	loscRate = 32768 * physic.Hertz
	hoscRate = 24 * physic.MegaHertz
)

const usecPerSec = 1000 * 1000

// ClockRates resolves a controller's reference clocks by consumer name
// ("hosc", "losc").
type ClockRates interface {
	Rate(name string) (physic.Frequency, error)
}

type debounceKind uint8

const (
	debounceAbsent debounceKind = iota
	debounceValues
	debounceMalformed
)

// DebounceSpec is the outcome of looking up a controller's input-debounce
// property: absent, present with per-bank microsecond values, or present
// but unreadable.
type DebounceSpec struct {
	kind   debounceKind
	values []uint32
}

// DebounceAbsent is the lookup outcome for a node without the property.
func DebounceAbsent() DebounceSpec { return DebounceSpec{kind: debounceAbsent} }

// DebounceValues holds one debounce interval per interrupt bank, in
// microseconds; zero leaves that bank's reset behavior alone.
func DebounceValues(us ...uint32) DebounceSpec {
	return DebounceSpec{kind: debounceValues, values: us}
}

// DebounceMalformed is the lookup outcome for a property that exists but
// doesn't decode.
func DebounceMalformed() DebounceSpec { return DebounceSpec{kind: debounceMalformed} }

// Absent reports whether there is nothing to program.
func (s DebounceSpec) Absent() bool { return s.kind == debounceAbsent }

// Values returns the per-bank intervals when the lookup produced any.
func (s DebounceSpec) Values() ([]uint32, bool) {
	return s.values, s.kind == debounceValues
}

func (s DebounceSpec) value(bank int) (uint32, error) {
	if s.kind == debounceValues && bank < len(s.values) {
		return s.values[bank], nil
	}
	if s.kind == debounceValues {
		return 0, errors.Wrapf(ErrMalformedConfig, "%d values, no entry for bank %d", len(s.values), bank)
	}
	return 0, errors.Wrap(ErrMalformedConfig, "value unreadable")
}

// DebounceSelect is one bank's sampling selection: which reference clock
// feeds the prescaler and the power-of-two divisor applied to it. The
// register encoding lives here and nowhere else.
type DebounceSelect struct {
	hosc bool
	div  uint32
}

// LoscSelect samples from the low-frequency oscillator divided by 2^div.
func LoscSelect(div uint32) DebounceSelect { return DebounceSelect{div: div & 7} }

// HoscSelect samples from the high-frequency oscillator divided by 2^div.
func HoscSelect(div uint32) DebounceSelect { return DebounceSelect{hosc: true, div: div & 7} }

// UsesHosc reports whether the high-frequency oscillator was selected.
func (s DebounceSelect) UsesHosc() bool { return s.hosc }

// Divisor returns the power-of-two divisor exponent, 0 through 7.
func (s DebounceSelect) Divisor() uint32 { return s.div }

// Encode returns the debounce register image: source bit 0 (1 selects the
// high-frequency oscillator), divisor in bits 6:4.
func (s DebounceSelect) Encode() uint32 {
	v := s.div << 4
	if s.hosc {
		v |= 1
	}
	return v
}

// DecodeDebounce reads a selection back out of a debounce register image.
func DecodeDebounce(reg uint32) DebounceSelect {
	return DebounceSelect{hosc: reg&1 == 1, div: reg >> 4 & 7}
}

// SampleRate returns the sampling frequency the selection yields from the
// given source rates.
func (s DebounceSelect) SampleRate(losc, hosc physic.Frequency) physic.Frequency {
	src := losc
	if s.hosc {
		src = hosc
	}
	return physic.Frequency(uint64(src/physic.Hertz)>>s.div) * physic.Hertz
}

func (s DebounceSelect) sourceName() string {
	if s.hosc {
		return "hosc"
	}
	return "losc"
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// bestDivisor finds the power-of-two divisor in [0,7] bringing rate closest
// to target, and how far off it lands. The scan keeps its first minimum, so
// the smallest such divisor wins ties.
func bestDivisor(rate, target uint64) (div uint32, diff uint64) {
	diff = absDiff(target, rate)
	for i := uint32(1); i < 8; i++ {
		if d := absDiff(target, rate>>i); d < diff {
			diff = d
			div = i
		}
	}
	return div, diff
}

// selectDebounce picks a bank's sampling clock. The low-frequency
// oscillator keeps the job unless the high-frequency one lands strictly
// closer to the target.
func selectDebounce(loscHz, hoscHz, target uint64) DebounceSelect {
	loscDiv, loscDiff := bestDivisor(loscHz, target)
	hoscDiv, hoscDiff := bestDivisor(hoscHz, target)
	if hoscDiff < loscDiff {
		return HoscSelect(hoscDiv)
	}
	return LoscSelect(loscDiv)
}

// SetupDebounce selects and programs every interrupt bank's debounce
// sampling clock. Controllers described without their oscillators (anything
// but exactly three clock references: bus, hosc, losc) predate the feature,
// and a node without the property has asked for nothing; both cases succeed
// without resolving clocks or touching registers. Runs once during
// bring-up. Banks already programmed stay programmed when a later bank's
// value turns out unreadable.
func (c *Controller) SetupDebounce(clocks ClockRates, clockRefs int, spec DebounceSpec) error {
	if clockRefs != 3 {
		c.logger.Debugf("%s: %d clock references, debounce not configurable", c.variant.Compatible, clockRefs)
		return nil
	}
	if spec.Absent() {
		c.logger.Debugf("%s: no input-debounce requested", c.variant.Compatible)
		return nil
	}

	losc, err := clocks.Rate("losc")
	if err != nil {
		return errors.Wrapf(ErrClockNotFound, "losc: %v", err)
	}
	hosc, err := clocks.Rate("hosc")
	if err != nil {
		return errors.Wrapf(ErrClockNotFound, "hosc: %v", err)
	}
	loscHz := uint64(losc / physic.Hertz)
	hoscHz := uint64(hosc / physic.Hertz)

	for bank := 0; bank < c.variant.IrqBanks; bank++ {
		us, err := spec.value(bank)
		if err != nil {
			return err
		}
		if us == 0 {
			continue
		}

		// Closest whole sampling frequency to the requested interval.
		target := (usecPerSec + uint64(us)/2) / uint64(us)
		sel := selectDebounce(loscHz, hoscHz, target)
		c.regs.Write32(debounceReg(uint32(c.variant.hwBank(bank))), sel.Encode())
		c.logger.Debugf("bank %d: %dus debounce, sampling %s/2^%d = %s",
			bank, us, sel.sourceName(), sel.Divisor(), sel.SampleRate(losc, hosc))
	}
	return nil
}

// TreeDebounce reads the attached node's debounce request: how many clock
// references the node carries and what the input-debounce property holds.
// A controller with no tree has nothing to request.
func (c *Controller) TreeDebounce() (clockRefs int, spec DebounceSpec) {
	if c.tree == nil {
		return 0, DebounceAbsent()
	}
	clockRefs = c.tree.CountClockReferences(c.node)
	if !c.tree.HasProperty(c.node, "input-debounce") {
		return clockRefs, DebounceAbsent()
	}
	values, err := c.tree.U32s(c.node, "input-debounce")
	if err != nil {
		return clockRefs, DebounceMalformed()
	}
	return clockRefs, DebounceValues(values...)
}

// TreeClocks resolves the attached node's reference clocks. Providers that
// don't declare a rate (the losc is often routed through the RTC) fall back
// to the line's canonical rates.
func (c *Controller) TreeClocks() ClockRates {
	return treeClocks{tree: c.tree, node: c.node}
}

type treeClocks struct {
	tree *devicetree.Tree
	node string
}

func (tc treeClocks) Rate(name string) (physic.Frequency, error) {
	provider, err := tc.tree.ClockByName(tc.node, name)
	if err != nil {
		return 0, err
	}
	rate, err := tc.tree.FixedRate(provider)
	if errors.Is(err, devicetree.ErrNoFixedRate) {
		switch name {
		case "losc":
			return loscRate, nil
		case "hosc":
			return hoscRate, nil
		}
	}
	return rate, err
}
