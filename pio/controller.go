//go:build linux

// Package pio drives the register file of Allwinner PIO pin controllers.
// This particular file attaches controllers found in the device tree and
// exposes the per-pin configuration registers.
package pio

import (
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/rdk/logging"

	"sunxi/devicetree"
)

// Pull is a pad's resistor setting, encoded as the pull registers encode it.
type Pull uint32

const (
	PullNone Pull = 0
	PullUp   Pull = 1
	PullDown Pull = 2
)

func (p Pull) String() string {
	switch p {
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	default:
		return "none"
	}
}

// Controller is one attached PIO register block.
type Controller struct {
	variant *Variant
	regs    RegIO
	logger  logging.Logger

	// tree and node are set when the controller was attached from a
	// device tree; the debounce and clock lookups need them.
	tree *devicetree.Tree
	node string

	closer interface{ Close() error }
}

// NewController wraps an already-opened register window. Attach is the
// normal path; this one exists so the register logic can run against fakes.
func NewController(variant *Variant, regs RegIO, logger logging.Logger) *Controller {
	return &Controller{variant: variant, regs: regs, logger: logger}
}

// ErrNoController is returned by AttachSystem when the device tree
// describes none of the known controller generations.
var ErrNoController = errors.New("no supported pin controller in the device tree")

// Attach finds the controller node compatible with compat, maps its
// registers out of /dev/mem, and returns it ready for configuration.
func Attach(tree *devicetree.Tree, compat string, logger logging.Logger) (*Controller, error) {
	variant, ok := VariantFor(compat)
	if !ok {
		return nil, errors.Errorf("unknown pin controller %q", compat)
	}
	return AttachVariant(tree, variant, logger)
}

// AttachVariant is Attach for geometry the built-in table doesn't carry,
// described by the caller instead of looked up by compatible.
func AttachVariant(tree *devicetree.Tree, variant *Variant, logger logging.Logger) (*Controller, error) {
	node, err := tree.FindCompatible(variant.Compatible)
	if err != nil {
		return nil, err
	}
	base, size, err := tree.Reg(node, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "locating registers of %s", node)
	}
	mem, err := openDevMem(base, size)
	if err != nil {
		return nil, errors.Wrapf(err, "mapping %s at 0x%x", node, base)
	}
	logger.Debugf("attached %s at %s (0x%x+0x%x)", variant.Compatible, node, base, size)

	c := NewController(variant, mem, logger)
	c.tree = tree
	c.node = node
	c.closer = mem
	return c, nil
}

// AttachSystem attaches every controller the tree describes; a SoC usually
// carries the main block plus an always-on one. Attaching nothing is an
// error, attaching only some of the known generations is not.
func AttachSystem(tree *devicetree.Tree, logger logging.Logger) ([]*Controller, error) {
	var ctrls []*Controller
	for _, v := range variants {
		c, err := Attach(tree, v.Compatible, logger)
		if errors.Is(err, devicetree.ErrNodeNotFound) {
			continue
		}
		if err != nil {
			for _, open := range ctrls {
				utils.UncheckedError(open.Close())
			}
			return nil, err
		}
		ctrls = append(ctrls, c)
	}
	if len(ctrls) == 0 {
		return nil, ErrNoController
	}
	return ctrls, nil
}

// WithTree associates the controller with its device-tree node the way
// Attach does, for use with NewController when the register window comes
// from elsewhere.
func (c *Controller) WithTree(tree *devicetree.Tree, node string) *Controller {
	c.tree = tree
	c.node = node
	return c
}

// Variant returns the controller's geometry.
func (c *Controller) Variant() *Variant { return c.variant }

// Node returns the device-tree node the controller was attached from.
func (c *Controller) Node() string { return c.node }

// Owns reports whether the pin belongs to this controller.
func (c *Controller) Owns(p Pin) bool {
	return c.variant.Check(p) == nil
}

// SetPull programs a pad's pull resistor.
func (c *Controller) SetPull(p Pin, pull Pull) error {
	if err := c.variant.Check(p); err != nil {
		return err
	}
	offset, shift := pullReg(c.variant.block(p), p.Index)
	v := c.regs.Read32(offset)
	v = v&^(3<<shift) | uint32(pull)<<shift
	c.regs.Write32(offset, v)
	c.logger.Debugf("%s pull %s", p, pull)
	return nil
}

// PullOf reads back a pad's pull resistor setting.
func (c *Controller) PullOf(p Pin) (Pull, error) {
	if err := c.variant.Check(p); err != nil {
		return 0, err
	}
	offset, shift := pullReg(c.variant.block(p), p.Index)
	return Pull(c.regs.Read32(offset) >> shift & 3), nil
}

// SetDriveLevel programs a pad's output drive strength, level 0 (weakest)
// through 3.
func (c *Controller) SetDriveLevel(p Pin, level int) error {
	if err := c.variant.Check(p); err != nil {
		return err
	}
	if level < 0 || level > 3 {
		return errors.Errorf("%s: drive level %d out of range 0-3", p, level)
	}
	offset, shift := drvReg(c.variant.block(p), p.Index)
	v := c.regs.Read32(offset)
	v = v&^(3<<shift) | uint32(level)<<shift
	c.regs.Write32(offset, v)
	return nil
}

// DriveLevel reads back a pad's output drive strength.
func (c *Controller) DriveLevel(p Pin) (int, error) {
	if err := c.variant.Check(p); err != nil {
		return 0, err
	}
	offset, shift := drvReg(c.variant.block(p), p.Index)
	return int(c.regs.Read32(offset) >> shift & 3), nil
}

// PinFunction reads back a pad's mux selection (0 is input, 1 is output,
// higher values select the pad's alternate functions).
func (c *Controller) PinFunction(p Pin) (uint32, error) {
	if err := c.variant.Check(p); err != nil {
		return 0, err
	}
	offset, shift := cfgReg(c.variant.block(p), p.Index)
	return c.regs.Read32(offset) >> shift & 0x7, nil
}

// Level reads a pad's input level from the data register.
func (c *Controller) Level(p Pin) (bool, error) {
	if err := c.variant.Check(p); err != nil {
		return false, err
	}
	return c.regs.Read32(datReg(c.variant.block(p)))>>uint32(p.Index)&1 == 1, nil
}

// DebounceOf reads back the debounce selection programmed for an interrupt
// bank.
func (c *Controller) DebounceOf(irqBank int) (DebounceSelect, error) {
	if irqBank < 0 || irqBank >= c.variant.IrqBanks {
		return DebounceSelect{}, errors.Errorf("no interrupt bank %d on %s", irqBank, c.variant.Compatible)
	}
	return DecodeDebounce(c.regs.Read32(debounceReg(uint32(c.variant.hwBank(irqBank))))), nil
}

// Close unmaps the controller's registers.
func (c *Controller) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
