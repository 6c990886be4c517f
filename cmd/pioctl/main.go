//go:build linux

// Package main is a debugging tool that pokes at the PIO blocks directly:
// pad levels, bias, drive strength, and the interrupt debounce prescalers.
// It wants root, same as anything else that opens /dev/mem.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
	"periph.io/x/conn/v3/physic"

	"sunxi/devicetree"
	"sunxi/pio"
)

func main() {
	app := &cli.App{
		Name:            "pioctl",
		Usage:           "inspect and poke Allwinner PIO pin controllers",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "info",
				Usage:  "list the pin controllers found in the device tree",
				Action: infoAction,
			},
			{
				Name:      "pin",
				Usage:     "read a pad's mux function, level, bias and drive strength",
				ArgsUsage: "PAD",
				Action:    pinAction,
			},
			{
				Name:      "pull",
				Usage:     "set a pad's bias",
				ArgsUsage: "PAD up|down|none",
				Action:    pullAction,
			},
			{
				Name:      "drive",
				Usage:     "set a pad's drive strength",
				ArgsUsage: "PAD LEVEL",
				Action:    driveAction,
			},
			{
				Name:      "debounce",
				Usage:     "show the interrupt debounce prescalers, or program one interval per bank",
				ArgsUsage: "[MICROSECONDS...]",
				Action:    debounceAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func attach(c *cli.Context) ([]*pio.Controller, error) {
	logger := logging.NewLogger("pioctl")
	if c.Bool("debug") {
		logger = logging.NewDebugLogger("pioctl")
	}
	tree, err := devicetree.System()
	if err != nil {
		return nil, err
	}
	return pio.AttachSystem(tree, logger)
}

func closeAll(ctrls []*pio.Controller) {
	for _, ctrl := range ctrls {
		utils.UncheckedError(ctrl.Close())
	}
}

func ownerOf(ctrls []*pio.Controller, pad pio.Pin) (*pio.Controller, error) {
	for _, ctrl := range ctrls {
		if ctrl.Owns(pad) {
			return ctrl, nil
		}
	}
	return nil, errors.Errorf("no attached controller owns %s", pad)
}

func muxName(function uint32) string {
	switch function {
	case 0:
		return "input"
	case 1:
		return "output"
	case 7:
		return "disabled"
	}
	return "alternate"
}

// clockRates reads the controller's real source clocks, falling back to the
// nominal rates when the tree doesn't spell them out.
func clockRates(ctrl *pio.Controller) (losc, hosc physic.Frequency) {
	clocks := ctrl.TreeClocks()
	losc, err := clocks.Rate("losc")
	if err != nil {
		losc = 32768 * physic.Hertz
	}
	hosc, err = clocks.Rate("hosc")
	if err != nil {
		hosc = 24 * physic.MegaHertz
	}
	return losc, hosc
}

func describeDebounce(ctrl *pio.Controller, sel pio.DebounceSelect) string {
	source := "losc"
	if sel.UsesHosc() {
		source = "hosc"
	}
	losc, hosc := clockRates(ctrl)
	return fmt.Sprintf("%s / 2^%d, sampling at %s", source, sel.Divisor(), sel.SampleRate(losc, hosc))
}

func printBanks(c *cli.Context, ctrl *pio.Controller) error {
	for bank := 0; bank < ctrl.Variant().IrqBanks; bank++ {
		sel, err := ctrl.DebounceOf(bank)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "  interrupt bank %d: %s\n", bank, describeDebounce(ctrl, sel))
	}
	return nil
}

func infoAction(c *cli.Context) error {
	ctrls, err := attach(c)
	if err != nil {
		return err
	}
	defer closeAll(ctrls)

	for _, ctrl := range ctrls {
		v := ctrl.Variant()
		fmt.Fprintf(c.App.Writer, "%s at %s\n", v.Compatible, ctrl.Node())
		for _, port := range v.Ports {
			irq := "no interrupts"
			if port.IrqBank >= 0 {
				irq = fmt.Sprintf("interrupt bank %d", port.IrqBank)
			}
			fmt.Fprintf(c.App.Writer, "  P%c: %d pads, %s\n", port.Letter, port.Pins, irq)
		}
		if err := printBanks(c, ctrl); err != nil {
			return err
		}
	}
	return nil
}

func pinAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: pioctl pin PAD")
	}
	pad, err := pio.ParsePin(c.Args().First())
	if err != nil {
		return err
	}

	ctrls, err := attach(c)
	if err != nil {
		return err
	}
	defer closeAll(ctrls)

	ctrl, err := ownerOf(ctrls, pad)
	if err != nil {
		return err
	}
	function, err := ctrl.PinFunction(pad)
	if err != nil {
		return err
	}
	level, err := ctrl.Level(pad)
	if err != nil {
		return err
	}
	pull, err := ctrl.PullOf(pad)
	if err != nil {
		return err
	}
	drive, err := ctrl.DriveLevel(pad)
	if err != nil {
		return err
	}

	levelName := "low"
	if level {
		levelName = "high"
	}
	fmt.Fprintf(c.App.Writer, "%s: function %d (%s), level %s, pull %s, drive %d\n",
		pad, function, muxName(function), levelName, pull, drive)
	return nil
}

func pullAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: pioctl pull PAD up|down|none")
	}
	pad, err := pio.ParsePin(c.Args().First())
	if err != nil {
		return err
	}
	var pull pio.Pull
	switch c.Args().Get(1) {
	case "up":
		pull = pio.PullUp
	case "down":
		pull = pio.PullDown
	case "none":
		pull = pio.PullNone
	default:
		return errors.Errorf("unknown bias %q", c.Args().Get(1))
	}

	ctrls, err := attach(c)
	if err != nil {
		return err
	}
	defer closeAll(ctrls)

	ctrl, err := ownerOf(ctrls, pad)
	if err != nil {
		return err
	}
	if err := ctrl.SetPull(pad, pull); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s: pull %s\n", pad, pull)
	return nil
}

func driveAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: pioctl drive PAD LEVEL")
	}
	pad, err := pio.ParsePin(c.Args().First())
	if err != nil {
		return err
	}
	level, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return errors.Wrapf(err, "drive level %q", c.Args().Get(1))
	}

	ctrls, err := attach(c)
	if err != nil {
		return err
	}
	defer closeAll(ctrls)

	ctrl, err := ownerOf(ctrls, pad)
	if err != nil {
		return err
	}
	if err := ctrl.SetDriveLevel(pad, level); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s: drive level %d\n", pad, level)
	return nil
}

func debounceAction(c *cli.Context) error {
	ctrls, err := attach(c)
	if err != nil {
		return err
	}
	defer closeAll(ctrls)

	if c.NArg() == 0 {
		for _, ctrl := range ctrls {
			fmt.Fprintf(c.App.Writer, "%s at %s\n", ctrl.Variant().Compatible, ctrl.Node())
			if err := printBanks(c, ctrl); err != nil {
				return err
			}
		}
		return nil
	}

	// Program the main block; the always-on block keeps the tree's values.
	var ctrl *pio.Controller
	for _, candidate := range ctrls {
		if candidate.Variant().FirstPort != 'L' {
			ctrl = candidate
			break
		}
	}
	if ctrl == nil {
		return errors.New("no main pin controller attached")
	}

	banks := ctrl.Variant().IrqBanks
	if c.NArg() != banks {
		return errors.Errorf("%s has %d interrupt banks, got %d intervals",
			ctrl.Variant().Compatible, banks, c.NArg())
	}
	var intervals []uint32
	for _, arg := range c.Args().Slice() {
		us, err := strconv.ParseUint(arg, 10, 32)
		if err != nil {
			return errors.Wrapf(err, "interval %q", arg)
		}
		intervals = append(intervals, uint32(us))
	}

	refs, _ := ctrl.TreeDebounce()
	if refs != 3 {
		return errors.Errorf("%s predates per-bank debounce (%d clock references, want 3)",
			ctrl.Node(), refs)
	}
	if err := ctrl.SetupDebounce(ctrl.TreeClocks(), refs, pio.DebounceValues(intervals...)); err != nil {
		return err
	}
	return printBanks(c, ctrl)
}
