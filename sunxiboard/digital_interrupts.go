//go:build linux

// Package sunxiboard implements Viam boards backed by Allwinner PIO pin
// controllers. This particular file watches pins for edges over the ioctl
// interface, by way of mkch's gpio package.
package sunxiboard

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mkch/gpio"
	"github.com/pkg/errors"
	"go.viam.com/rdk/components/board"
	"go.viam.com/utils"
)

type digitalInterrupt struct {
	// name is the interrupt's configured name; pin remembers which pin
	// the config put it on, so reconfiguration can tell moves from noise.
	name string
	pin  string
	line *gpio.LineWithEvent

	cancelCtx  context.Context
	cancelFunc func()

	count atomic.Int64

	mu       sync.Mutex
	channels map[chan board.Tick]struct{}
}

// Call this only with the board's mutex locked.
func (b *sunxiBoard) createDigitalInterrupt(conf board.DigitalInterruptConfig) (*digitalInterrupt, error) {
	pin, err := b.lookupGpioPin(conf.Pin)
	if err != nil {
		return nil, errors.Wrapf(err, "interrupt %s", conf.Name)
	}
	if pin.devicePath == "" {
		return nil, errors.Errorf("interrupt %s: pin %s is a PWM output", conf.Name, conf.Pin)
	}
	devicePath, offset := pin.devicePath, pin.offset

	// The pin's own descriptor would hold the line busy; release it.
	if err := pin.Close(); err != nil {
		return nil, err
	}
	delete(b.gpios, b.canonicalName(conf.Pin))

	chip, err := gpio.OpenChip(devicePath)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(chip.Close)

	line, err := chip.OpenLineWithEvents(offset, gpio.Input, gpio.BothEdges, "sunxi-interrupt")
	if err != nil {
		return nil, err
	}

	cancelCtx, cancelFunc := context.WithCancel(b.cancelCtx)
	di := &digitalInterrupt{
		name:       conf.Name,
		pin:        conf.Pin,
		line:       line,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
		channels:   map[chan board.Tick]struct{}{},
	}
	di.startMonitor(&b.activeBackgroundWorkers)
	return di, nil
}

func (di *digitalInterrupt) startMonitor(workers *sync.WaitGroup) {
	workers.Add(1)
	utils.ManagedGo(func() {
		for {
			select {
			case <-di.cancelCtx.Done():
				return
			case event := <-di.line.Events():
				di.announce(event.RisingEdge, uint64(event.Time.UnixNano()))
			}
		}
	}, workers.Done)
}

func (di *digitalInterrupt) announce(high bool, nanos uint64) {
	di.count.Add(1)
	tick := board.Tick{Name: di.name, High: high, TimestampNanosec: nanos}

	di.mu.Lock()
	defer di.mu.Unlock()
	for ch := range di.channels {
		select {
		case ch <- tick:
		case <-di.cancelCtx.Done():
			return
		}
	}
}

// Name implements board.DigitalInterrupt.
func (di *digitalInterrupt) Name() string {
	return di.name
}

// Value implements board.DigitalInterrupt: the number of ticks seen since
// the interrupt was created.
func (di *digitalInterrupt) Value(ctx context.Context, extra map[string]interface{}) (int64, error) {
	return di.count.Load(), nil
}

func (di *digitalInterrupt) AddChannel(ch chan board.Tick) {
	di.mu.Lock()
	defer di.mu.Unlock()
	di.channels[ch] = struct{}{}
}

func (di *digitalInterrupt) RemoveChannel(ch chan board.Tick) {
	di.mu.Lock()
	defer di.mu.Unlock()
	delete(di.channels, ch)
}

func (di *digitalInterrupt) Close() error {
	// The monitor goroutine only consumes the line's event channel, so it
	// doesn't need to finish shutting down before the line closes.
	di.cancelFunc()
	if di.line == nil {
		return nil
	}
	return di.line.Close()
}

// interruptPin lets an interrupt's pin still be read as a GPIO input.
type interruptPin struct {
	interrupt *digitalInterrupt
}

// Set implements board.GPIOPin.
func (gp interruptPin) Set(ctx context.Context, isHigh bool, extra map[string]interface{}) error {
	return errors.New("cannot set value of a digital interrupt pin")
}

// Get implements board.GPIOPin.
func (gp interruptPin) Get(ctx context.Context, extra map[string]interface{}) (bool, error) {
	value, err := gp.interrupt.line.Value()
	if err != nil {
		return false, err
	}
	return value != 0, nil
}

// PWM implements board.GPIOPin.
func (gp interruptPin) PWM(ctx context.Context, extra map[string]interface{}) (float64, error) {
	return 0, errors.New("cannot get PWM of a digital interrupt pin")
}

// SetPWM implements board.GPIOPin.
func (gp interruptPin) SetPWM(ctx context.Context, dutyCyclePct float64, extra map[string]interface{}) error {
	return errors.New("cannot set PWM of a digital interrupt pin")
}

// PWMFreq implements board.GPIOPin.
func (gp interruptPin) PWMFreq(ctx context.Context, extra map[string]interface{}) (uint, error) {
	return 0, errors.New("cannot get PWM freq of a digital interrupt pin")
}

// SetPWMFreq implements board.GPIOPin.
func (gp interruptPin) SetPWMFreq(ctx context.Context, freqHz uint, extra map[string]interface{}) error {
	return errors.New("cannot set PWM freq of a digital interrupt pin")
}
