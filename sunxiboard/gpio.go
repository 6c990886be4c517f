//go:build linux

// Package sunxiboard implements Viam boards backed by Allwinner PIO pin
// controllers. This particular file drives GPIO pins over the ioctl
// interface, by way of mkch's gpio package.
package sunxiboard

import (
	"context"
	"sync"
	"time"

	"github.com/mkch/gpio"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

type gpioPin struct {
	// Immutable after construction. An empty devicePath means the pad is
	// claimed by its PWM block and can't be driven as a GPIO.
	name       string
	devicePath string
	offset     uint32
	hwPwm      *pwmDevice

	// line is opened lazily and stays open so the pin holds its state.
	line *gpio.Line

	// Mutable, guarded by mu.
	pwmRunning      bool
	pwmFreqHz       uint
	pwmDutyCyclePct float64

	mu        sync.Mutex
	cancelCtx context.Context
	waitGroup *sync.WaitGroup
	logger    logging.Logger
}

// Call this only with the mutex locked. It sets pin.line to a valid struct
// or returns an error.
func (pin *gpioPin) openGpioFd() error {
	if pin.line != nil {
		return nil
	}
	if pin.devicePath == "" {
		return errors.Errorf("pin %s is a PWM output, not a GPIO", pin.name)
	}

	chip, err := gpio.OpenChip(pin.devicePath)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(chip.Close)

	// Default value 0; Set puts the intended value in place right after.
	line, err := chip.OpenLine(pin.offset, 0, gpio.Output, "sunxi-gpio")
	if err != nil {
		return err
	}
	pin.line = line
	return nil
}

// Set implements board.GPIOPin.
func (pin *gpioPin) Set(ctx context.Context, isHigh bool, extra map[string]interface{}) error {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	pin.pwmRunning = false
	return pin.setInternal(isHigh)
}

// Call this only with the mutex locked. It changes the pin's level without
// touching whether the pin is part of a PWM loop.
func (pin *gpioPin) setInternal(isHigh bool) error {
	if err := pin.openGpioFd(); err != nil {
		return err
	}

	var value byte
	if isHigh {
		value = 1
	}
	return pin.line.SetValue(value)
}

// Get implements board.GPIOPin.
func (pin *gpioPin) Get(ctx context.Context, extra map[string]interface{}) (bool, error) {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	if err := pin.openGpioFd(); err != nil {
		return false, err
	}

	value, err := pin.line.Value()
	if err != nil {
		return false, err
	}
	// Expected to be 0 or 1, but treat anything nonzero as high.
	return value != 0, nil
}

// Call this only with the mutex locked. Routes the stored frequency and
// duty cycle to the hardware channel when the pad has one, and otherwise
// runs a software loop. Clearing either parameter turns the output off.
func (pin *gpioPin) updatePwm() error {
	if pin.pwmDutyCyclePct == 0 || pin.pwmFreqHz == 0 {
		pin.pwmRunning = false
		if pin.hwPwm != nil {
			return pin.hwPwm.Off()
		}
		// If both parameters used to be set, the pin may be high right now.
		return pin.setInternal(false)
	}

	if pin.hwPwm != nil {
		return pin.hwPwm.SetPwm(pin.pwmFreqHz, pin.pwmDutyCyclePct)
	}

	if pin.pwmRunning {
		return nil
	}
	pin.pwmRunning = true
	pin.waitGroup.Add(1)
	utils.ManagedGo(pin.softwarePwmLoop, pin.waitGroup.Done)
	return nil
}

// One on-or-off phase of the software PWM cycle: set the level, then wait
// out the phase's share of the period. Returns whether to keep cycling.
func (pin *gpioPin) halfPwmCycle(shouldBeOn bool) bool {
	var dutyCycle float64
	var freqHz uint

	shouldContinue := func() bool {
		pin.mu.Lock()
		defer pin.mu.Unlock()
		if !pin.pwmRunning {
			return false
		}

		dutyCycle = pin.pwmDutyCyclePct
		freqHz = pin.pwmFreqHz

		// A failed toggle shouldn't kill the loop; the next flank gets
		// another chance. Log it so repeat offenders show up.
		utils.UncheckedErrorFunc(func() error { return pin.setInternal(shouldBeOn) })
		return true
	}()

	if !shouldContinue {
		return false
	}

	if !shouldBeOn {
		dutyCycle = 1 - dutyCycle
	}
	duration := time.Duration(float64(time.Second) * dutyCycle / float64(freqHz))
	return utils.SelectContextOrWait(pin.cancelCtx, duration)
}

func (pin *gpioPin) softwarePwmLoop() {
	for {
		if !pin.halfPwmCycle(true) {
			return
		}
		if !pin.halfPwmCycle(false) {
			return
		}
	}
}

// PWM implements board.GPIOPin.
func (pin *gpioPin) PWM(ctx context.Context, extra map[string]interface{}) (float64, error) {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	return pin.pwmDutyCyclePct, nil
}

// SetPWM implements board.GPIOPin.
func (pin *gpioPin) SetPWM(ctx context.Context, dutyCyclePct float64, extra map[string]interface{}) error {
	if dutyCyclePct < 0 || dutyCyclePct > 1 {
		return errors.Errorf("duty cycle %f for pin %s out of range 0 to 1", dutyCyclePct, pin.name)
	}

	pin.mu.Lock()
	defer pin.mu.Unlock()

	pin.pwmDutyCyclePct = dutyCyclePct
	return pin.updatePwm()
}

// PWMFreq implements board.GPIOPin.
func (pin *gpioPin) PWMFreq(ctx context.Context, extra map[string]interface{}) (uint, error) {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	return pin.pwmFreqHz, nil
}

// SetPWMFreq implements board.GPIOPin.
func (pin *gpioPin) SetPWMFreq(ctx context.Context, freqHz uint, extra map[string]interface{}) error {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	pin.pwmFreqHz = freqHz
	return pin.updatePwm()
}

// Close releases the line's file descriptor; the struct holds it open for
// as long as the pin is in use so the pin keeps its state.
func (pin *gpioPin) Close() error {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	pin.pwmRunning = false

	var err error
	if pin.hwPwm != nil {
		err = pin.hwPwm.Close()
	}
	if pin.line != nil {
		err = multierr.Combine(err, pin.line.Close())
		pin.line = nil
	}
	return err
}
