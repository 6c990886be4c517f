//go:build linux

package sunxiboard

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"sunxi/devicetree"
	"sunxi/pio"
)

type regWrite struct {
	offset, value uint32
}

// fakeRegs is an in-memory register window that remembers writes in order.
type fakeRegs struct {
	values map[uint32]uint32
	writes []regWrite
}

func newFakeRegs() *fakeRegs {
	return &fakeRegs{values: map[uint32]uint32{}}
}

func (r *fakeRegs) Read32(offset uint32) uint32 { return r.values[offset] }

func (r *fakeRegs) Write32(offset, value uint32) {
	r.values[offset] = value
	r.writes = append(r.writes, regWrite{offset, value})
}

func cells(vals ...uint32) []byte {
	b := make([]byte, 0, len(vals)*4)
	for _, v := range vals {
		b = binary.BigEndian.AppendUint32(b, v)
	}
	return b
}

func stringList(vals ...string) []byte {
	return []byte(strings.Join(vals, "\x00") + "\x00")
}

func writeTree(t *testing.T, props map[string][]byte) *devicetree.Tree {
	t.Helper()
	root := t.TempDir()
	for name, data := range props {
		path := filepath.Join(root, name)
		test.That(t, os.MkdirAll(filepath.Dir(path), 0o755), test.ShouldBeNil)
		test.That(t, os.WriteFile(path, data, 0o644), test.ShouldBeNil)
	}
	tree, err := devicetree.Open(root)
	test.That(t, err, test.ShouldBeNil)
	return tree
}

const h6PinctrlNode = "/soc/pinctrl@300b000"

// h6Tree lays out an H6-shaped snippet: the clock controller, the 24MHz
// oscillator, the RTC providing the losc without declaring its rate, and
// the pin controller referencing all three. Extra properties override the
// defaults.
func h6Tree(t *testing.T, extra map[string][]byte) *devicetree.Tree {
	t.Helper()
	props := map[string][]byte{
		"compatible": stringList("xunlong,orangepi-3-lts", "allwinner,sun50i-h6"),

		"soc/ccu@3001000/phandle":      cells(2),
		"soc/ccu@3001000/#clock-cells": cells(1),

		"osc24M/phandle":         cells(3),
		"osc24M/#clock-cells":    cells(0),
		"osc24M/compatible":      []byte("fixed-clock\x00"),
		"osc24M/clock-frequency": cells(24000000),

		"rtc@7000000/phandle":      cells(4),
		"rtc@7000000/#clock-cells": cells(1),

		"soc/pinctrl@300b000/compatible":  []byte("allwinner,sun50i-h6-pinctrl\x00"),
		"soc/pinctrl@300b000/clocks":      cells(2, 26, 3, 4, 0),
		"soc/pinctrl@300b000/clock-names": stringList("apb", "hosc", "losc"),
	}
	for name, data := range extra {
		props[name] = data
	}
	return writeTree(t, props)
}

// newTestBoard builds an OrangePi 3 LTS on fake register windows. The main
// controller picks up the given tree (nil for none); the always-on one
// never gets a tree.
func newTestBoard(t *testing.T, tree *devicetree.Tree) (*sunxiBoard, *fakeRegs, *fakeRegs) {
	t.Helper()
	logger := logging.NewTestLogger(t)
	mainVariant, alwaysOnVariant := variantPair(t,
		"allwinner,sun50i-h6-pinctrl", "allwinner,sun50i-h6-r-pinctrl")

	mainRegs, alwaysOnRegs := newFakeRegs(), newFakeRegs()
	mainCtrl := pio.NewController(mainVariant, mainRegs, logger)
	if tree != nil {
		mainCtrl = mainCtrl.WithTree(tree, h6PinctrlNode)
	}
	alwaysOnCtrl := pio.NewController(alwaysOnVariant, alwaysOnRegs, logger)

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	b := &sunxiBoard{
		Named:       board.Named("test-board").AsNamed(),
		logger:      logger,
		def:         boardDefinitions[opi3lts],
		controllers: []*pio.Controller{mainCtrl, alwaysOnCtrl},
		gpios:       map[string]*gpioPin{},
		padNames:    map[string]string{},
		interrupts:  map[string]*digitalInterrupt{},
		cancelCtx:   cancelCtx,
		cancelFunc:  cancelFunc,
	}
	t.Cleanup(cancelFunc)
	test.That(t, b.initHeaderPins(), test.ShouldBeNil)
	return b, mainRegs, alwaysOnRegs
}

func fabricateInterrupt(t *testing.T, name, pin string) *digitalInterrupt {
	t.Helper()
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	di := &digitalInterrupt{
		name:       name,
		pin:        pin,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
		channels:   map[chan board.Tick]struct{}{},
	}
	t.Cleanup(cancelFunc)
	return di
}

func TestConfigValidate(t *testing.T) {
	t.Run("empty is fine", func(t *testing.T) {
		deps, optional, err := (&Config{}).Validate("test")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, deps, test.ShouldBeNil)
		test.That(t, optional, test.ShouldBeNil)
	})

	t.Run("full pin setup is fine", func(t *testing.T) {
		drive := 2
		conf := &Config{
			Pins:              []PinConfig{{Name: "11", Pull: "up", Drive: &drive}},
			DigitalInterrupts: []board.DigitalInterruptConfig{{Name: "button", Pin: "13"}},
			InputDebounceUS:   []uint32{1000, 0, 0, 0},
		}
		_, _, err := conf.Validate("test")
		test.That(t, err, test.ShouldBeNil)
	})

	t.Run("pin needs a name", func(t *testing.T) {
		_, _, err := (&Config{Pins: []PinConfig{{Pull: "up"}}}).Validate("test")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "test.pins.0")
		test.That(t, err.Error(), test.ShouldContainSubstring, "name")
	})

	t.Run("pull must be known", func(t *testing.T) {
		_, _, err := (&Config{Pins: []PinConfig{{Name: "11", Pull: "sideways"}}}).Validate("test")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "pull must be")
	})

	t.Run("drive range", func(t *testing.T) {
		drive := 4
		_, _, err := (&Config{Pins: []PinConfig{{Name: "11", Drive: &drive}}}).Validate("test")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "out of range")
	})

	t.Run("interrupt needs name and pin", func(t *testing.T) {
		_, _, err := (&Config{
			DigitalInterrupts: []board.DigitalInterruptConfig{{Pin: "13"}},
		}).Validate("test")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "name")

		_, _, err = (&Config{
			DigitalInterrupts: []board.DigitalInterruptConfig{{Name: "button"}},
		}).Validate("test")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "pin")
	})
}

func TestCustomConfigValidate(t *testing.T) {
	t.Run("defs file is required", func(t *testing.T) {
		_, _, err := (&CustomConfig{}).Validate("test")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "board_defs_file_path")
	})

	t.Run("defs file must exist", func(t *testing.T) {
		conf := &CustomConfig{BoardDefsFilePath: filepath.Join(t.TempDir(), "nope.json")}
		_, _, err := conf.Validate("test")
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("inner config still validates", func(t *testing.T) {
		path := writeDefsFile(t, `{"pins": []}`)
		conf := &CustomConfig{
			Config:            Config{Pins: []PinConfig{{Name: "11", Pull: "sideways"}}},
			BoardDefsFilePath: path,
		}
		_, _, err := conf.Validate("test")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "pull must be")
	})
}

func TestCheckBoardIdentity(t *testing.T) {
	tree := h6Tree(t, nil)

	test.That(t, checkBoardIdentity(tree, boardDefinitions[opi3lts]), test.ShouldBeNil)

	err := checkBoardIdentity(tree, boardDefinitions[opiZero])
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, opiZero)

	// File-loaded definitions may omit compatibles to skip the check.
	test.That(t, checkBoardIdentity(tree, boardDefinition{Model: "anything"}), test.ShouldBeNil)
}

func TestGPIOPinNames(t *testing.T) {
	b, _, _ := newTestBoard(t, nil)
	test.That(t, b.gpios, test.ShouldHaveLength, len(boardDefinitions[opi3lts].Pins))

	// Header position and pad name land on the same pin.
	byPosition, err := b.GPIOPinByName("3")
	test.That(t, err, test.ShouldBeNil)
	byPad, err := b.GPIOPinByName("PD26")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, byPad, test.ShouldEqual, byPosition)
	byLowercase, err := b.GPIOPinByName("pd26")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, byLowercase, test.ShouldEqual, byPosition)

	pin, ok := byPosition.(*gpioPin)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pin.name, test.ShouldEqual, "3")
	test.That(t, pin.offset, test.ShouldEqual, 122)
	test.That(t, pin.devicePath, test.ShouldEqual, "gpiochip1")

	// Always-on pads open the other chip.
	alwaysOn, err := b.GPIOPinByName("8")
	test.That(t, err, test.ShouldBeNil)
	pin, ok = alwaysOn.(*gpioPin)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pin.offset, test.ShouldEqual, 2)
	test.That(t, pin.devicePath, test.ShouldEqual, "gpiochip0")

	// Pads that never made the header still resolve, and only once.
	dynamic, err := b.GPIOPinByName("PD19")
	test.That(t, err, test.ShouldBeNil)
	pin, ok = dynamic.(*gpioPin)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pin.offset, test.ShouldEqual, 115)
	test.That(t, pin.devicePath, test.ShouldEqual, "gpiochip1")
	again, err := b.GPIOPinByName("PD19")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again, test.ShouldEqual, dynamic)

	alwaysOnPad, err := b.GPIOPinByName("PL5")
	test.That(t, err, test.ShouldBeNil)
	pin, ok = alwaysOnPad.(*gpioPin)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pin.offset, test.ShouldEqual, 5)
	test.That(t, pin.devicePath, test.ShouldEqual, "gpiochip0")

	_, err = b.GPIOPinByName("99")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown pin")

	_, err = b.GPIOPinByName("PA1")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no controller owns")
}

func TestHeaderPinRebuild(t *testing.T) {
	b, _, _ := newTestBoard(t, nil)

	// An interrupt conversion removes the pin from the map; asking for it
	// again rebuilds it from the pin table.
	original := b.gpios["11"]
	test.That(t, original.Close(), test.ShouldBeNil)
	delete(b.gpios, "11")

	rebuilt, err := b.GPIOPinByName("PD24")
	test.That(t, err, test.ShouldBeNil)
	pin, ok := rebuilt.(*gpioPin)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pin.name, test.ShouldEqual, "11")
	test.That(t, pin.offset, test.ShouldEqual, 120)
	test.That(t, b.gpios["11"], test.ShouldEqual, pin)
}

func TestPwmPinFallback(t *testing.T) {
	// Pin 7 carries a PWM channel, but with no PWM chip in sysfs the board
	// keeps it usable as a plain GPIO.
	b, _, _ := newTestBoard(t, nil)
	gp, err := b.GPIOPinByName("7")
	test.That(t, err, test.ShouldBeNil)
	pin, ok := gp.(*gpioPin)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pin.offset, test.ShouldEqual, 118)
}

func TestBoardSurface(t *testing.T) {
	b, _, _ := newTestBoard(t, nil)

	_, err := b.AnalogByName("pot")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "analogs not supported")
	test.That(t, b.AnalogNames(), test.ShouldBeEmpty)
	test.That(t, b.DigitalInterruptNames(), test.ShouldBeEmpty)

	_, err = b.DoCommand(context.Background(), map[string]interface{}{"command": "anything"})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReconfigurePads(t *testing.T) {
	b, mainRegs, alwaysOnRegs := newTestBoard(t, nil)

	drive := 3
	conf := &Config{Pins: []PinConfig{
		{Name: "11", Pull: "up"},    // PD24
		{Name: "PH4", Pull: "down"}, // off-header spelling
		{Name: "12", Drive: &drive}, // PD18
		{Name: "8", Pull: "none"},   // PL2, always-on block
	}}
	test.That(t, b.applyConfig(context.Background(), conf), test.ShouldBeNil)

	// PD24: pull register block 3, bits 16..17.
	test.That(t, mainRegs.values[3*0x24+0x1c+4], test.ShouldEqual, uint32(1)<<16)
	// PH4: pull register block 7, bits 8..9.
	test.That(t, mainRegs.values[7*0x24+0x1c], test.ShouldEqual, uint32(2)<<8)
	// PD18: drive register block 3, bits 4..5.
	test.That(t, mainRegs.values[3*0x24+0x14+4], test.ShouldEqual, uint32(3)<<4)
	// PL2 on the always-on block: pull register block 0, bits 4..5.
	test.That(t, alwaysOnRegs.writes, test.ShouldHaveLength, 1)
	test.That(t, alwaysOnRegs.writes[0].offset, test.ShouldEqual, uint32(0x1c))

	conf = &Config{Pins: []PinConfig{{Name: "nonsense"}}}
	err := b.applyConfig(context.Background(), conf)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "nonsense")
}

func TestReconfigureDebounce(t *testing.T) {
	debounceProp := map[string][]byte{
		"soc/pinctrl@300b000/input-debounce": cells(1000, 2000, 0, 4),
	}

	t.Run("tree values program the main block", func(t *testing.T) {
		b, mainRegs, alwaysOnRegs := newTestBoard(t, h6Tree(t, debounceProp))
		test.That(t, b.applyConfig(context.Background(), &Config{}), test.ShouldBeNil)
		test.That(t, mainRegs.writes, test.ShouldResemble, []regWrite{
			{0x238, 0x50},
			{0x2b8, 0x60},
			{0x2f8, 0x71},
		})
		test.That(t, alwaysOnRegs.writes, test.ShouldHaveLength, 0)
	})

	t.Run("config overrides the tree's values", func(t *testing.T) {
		b, mainRegs, alwaysOnRegs := newTestBoard(t, h6Tree(t, debounceProp))
		conf := &Config{InputDebounceUS: []uint32{0, 0, 5000, 0}}
		test.That(t, b.applyConfig(context.Background(), conf), test.ShouldBeNil)
		test.That(t, mainRegs.writes, test.ShouldResemble, []regWrite{{0x2d8, 0x70}})
		test.That(t, alwaysOnRegs.writes, test.ShouldHaveLength, 0)
	})

	t.Run("override without a tree property still programs", func(t *testing.T) {
		b, mainRegs, _ := newTestBoard(t, h6Tree(t, nil))
		conf := &Config{InputDebounceUS: []uint32{1000, 1000, 1000, 1000}}
		test.That(t, b.applyConfig(context.Background(), conf), test.ShouldBeNil)
		test.That(t, mainRegs.writes, test.ShouldResemble, []regWrite{
			{0x238, 0x50},
			{0x2b8, 0x50},
			{0x2d8, 0x50},
			{0x2f8, 0x50},
		})
	})

	t.Run("override must cover every bank", func(t *testing.T) {
		b, mainRegs, _ := newTestBoard(t, h6Tree(t, nil))
		conf := &Config{InputDebounceUS: []uint32{1000}}
		err := b.applyConfig(context.Background(), conf)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "input_debounce_us needs 4")
		test.That(t, mainRegs.writes, test.ShouldHaveLength, 0)
	})

	t.Run("override doesn't defeat the clock gate", func(t *testing.T) {
		// An older tree references only the bus clock; debounce stays
		// unprogrammed no matter what the config asks for.
		tree := h6Tree(t, map[string][]byte{
			"soc/pinctrl@300b000/clocks":         cells(2, 26),
			"soc/pinctrl@300b000/clock-names":    stringList("apb"),
			"soc/pinctrl@300b000/input-debounce": cells(1000, 2000, 0, 4),
		})
		b, mainRegs, _ := newTestBoard(t, tree)
		conf := &Config{InputDebounceUS: []uint32{1000, 1000, 1000, 1000}}
		test.That(t, b.applyConfig(context.Background(), conf), test.ShouldBeNil)
		test.That(t, mainRegs.writes, test.ShouldHaveLength, 0)
	})

	t.Run("no tree at all is quiet", func(t *testing.T) {
		b, mainRegs, _ := newTestBoard(t, nil)
		test.That(t, b.applyConfig(context.Background(), &Config{}), test.ShouldBeNil)
		test.That(t, mainRegs.writes, test.ShouldHaveLength, 0)
	})
}

func TestInterruptTicks(t *testing.T) {
	di := fabricateInterrupt(t, "button", "11")
	test.That(t, di.Name(), test.ShouldEqual, "button")

	ch := make(chan board.Tick, 1)
	di.AddChannel(ch)
	di.announce(true, 12345)

	tick := <-ch
	test.That(t, tick.Name, test.ShouldEqual, "button")
	test.That(t, tick.High, test.ShouldBeTrue)
	test.That(t, tick.TimestampNanosec, test.ShouldEqual, uint64(12345))

	value, err := di.Value(context.Background(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, value, test.ShouldEqual, int64(1))

	di.RemoveChannel(ch)
	di.announce(false, 67890)
	test.That(t, len(ch), test.ShouldEqual, 0)

	value, err = di.Value(context.Background(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, value, test.ShouldEqual, int64(2))
}

func TestInterruptPinNames(t *testing.T) {
	b, _, _ := newTestBoard(t, nil)
	di := fabricateInterrupt(t, "button", "11")
	b.interrupts["button"] = di

	got, err := b.DigitalInterruptByName("button")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldEqual, di)
	test.That(t, b.DigitalInterruptNames(), test.ShouldResemble, []string{"button"})

	// The pin behind an interrupt reads back as an input, whichever
	// spelling asks for it.
	for _, name := range []string{"button", "11", "PD24"} {
		gp, err := b.GPIOPinByName(name)
		test.That(t, err, test.ShouldBeNil)
		_, ok := gp.(interruptPin)
		test.That(t, ok, test.ShouldBeTrue)
	}

	gp, _ := b.GPIOPinByName("button")
	err = gp.Set(context.Background(), true, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cannot set value")
	err = gp.SetPWM(context.Background(), 0.5, nil)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = gp.PWMFreq(context.Background(), nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReconfigureInterruptRemoval(t *testing.T) {
	b, _, _ := newTestBoard(t, nil)
	keep := fabricateInterrupt(t, "keep", "11")
	drop := fabricateInterrupt(t, "drop", "13")
	b.interrupts["keep"] = keep
	b.interrupts["drop"] = drop

	conf := &Config{DigitalInterrupts: []board.DigitalInterruptConfig{{Name: "keep", Pin: "11"}}}
	test.That(t, b.applyConfig(context.Background(), conf), test.ShouldBeNil)

	test.That(t, b.interrupts, test.ShouldHaveLength, 1)
	test.That(t, b.interrupts["keep"], test.ShouldEqual, keep)
	test.That(t, drop.cancelCtx.Err(), test.ShouldNotBeNil)
	test.That(t, keep.cancelCtx.Err(), test.ShouldBeNil)
}

type otherInterrupt struct{}

func (otherInterrupt) Name() string { return "other" }

func (otherInterrupt) Value(ctx context.Context, extra map[string]interface{}) (int64, error) {
	return 0, nil
}

func TestStreamTicks(t *testing.T) {
	b, _, _ := newTestBoard(t, nil)
	di := fabricateInterrupt(t, "button", "11")
	b.interrupts["button"] = di

	err := b.StreamTicks(context.Background(), []board.DigitalInterrupt{otherInterrupt{}}, nil, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not created by this board")

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan board.Tick, 1)
	test.That(t, b.StreamTicks(ctx, []board.DigitalInterrupt{di}, ch, nil), test.ShouldBeNil)

	di.announce(true, 777)
	tick := <-ch
	test.That(t, tick.Name, test.ShouldEqual, "button")
	test.That(t, tick.TimestampNanosec, test.ShouldEqual, uint64(777))

	// Cancelling the stream context unsubscribes the channel.
	cancel()
	b.activeBackgroundWorkers.Wait()
	di.announce(false, 778)
	test.That(t, len(ch), test.ShouldEqual, 0)
}
