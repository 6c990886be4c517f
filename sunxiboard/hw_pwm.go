//go:build linux

// Package sunxiboard implements Viam boards backed by Allwinner PIO pin
// controllers. This particular file drives hardware PWM channels through
// sysfs.
package sunxiboard

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
)

const pwmRootPath = "/sys/class/pwm"

// findPwmChip resolves a PWM controller's sysfs device directory name (the
// way the board tables refer to it) to its pwmchip entry, whose number
// depends on probe order.
func findPwmChip(sysfsDir string) (string, error) {
	chips, err := filepath.Glob(filepath.Join(pwmRootPath, "pwmchip*"))
	if err != nil {
		return "", err
	}
	for _, chip := range chips {
		device, err := os.Readlink(filepath.Join(chip, "device"))
		if err != nil {
			continue
		}
		if filepath.Base(device) == sysfsDir {
			return chip, nil
		}
	}
	return "", errors.Errorf("no PWM chip for %s under %s", sysfsDir, pwmRootPath)
}

type pwmDevice struct {
	// Immutable.
	chipPath string
	linePath string
	line     int

	mu sync.Mutex

	// Mutable, guarded by mu.
	periodNs         uint64
	activeDurationNs uint64
	isExported       bool
	isEnabled        bool

	logger logging.Logger
}

func newPwmDevice(chipPath string, line int, logger logging.Logger) *pwmDevice {
	return &pwmDevice{
		chipPath: chipPath,
		linePath: filepath.Join(chipPath, "pwm"+strconv.Itoa(line)),
		line:     line,
		logger:   logger,
	}
}

// The permissions only matter if the file has to be created; these
// pseudofiles always exist already.
func writeValue(path string, value uint64) error {
	return os.WriteFile(path, []byte(strconv.FormatUint(value, 10)), 0o660)
}

func (pwm *pwmDevice) chipFile(name string) string {
	return filepath.Join(pwm.chipPath, name)
}

func (pwm *pwmDevice) lineFile(name string) string {
	return filepath.Join(pwm.linePath, name)
}

// Call this only with the mutex locked.
func (pwm *pwmDevice) export() error {
	if pwm.isExported {
		return nil
	}
	if err := writeValue(pwm.chipFile("export"), uint64(pwm.line)); err != nil {
		return err
	}
	// The line's directory appears asynchronously after the export.
	for i := 0; i < 10; i++ {
		if _, err := os.Stat(pwm.linePath); err == nil {
			pwm.isExported = true
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return errors.Errorf("pwm%d did not appear after exporting it", pwm.line)
}

// Call this only with the mutex locked.
func (pwm *pwmDevice) unexport() error {
	if !pwm.isExported {
		return nil
	}
	if err := writeValue(pwm.chipFile("unexport"), uint64(pwm.line)); err != nil {
		return err
	}
	pwm.isExported = false
	return nil
}

// Call this only with the mutex locked.
func (pwm *pwmDevice) enable() error {
	if pwm.isEnabled {
		return nil
	}
	if err := writeValue(pwm.lineFile("enable"), 1); err != nil {
		return err
	}
	pwm.isEnabled = true
	return nil
}

// Call this only with the mutex locked.
func (pwm *pwmDevice) disable() error {
	if !pwm.isEnabled {
		return nil
	}
	if err := writeValue(pwm.lineFile("enable"), 0); err != nil {
		return err
	}
	pwm.isEnabled = false
	return nil
}

// SetPwm turns the channel on at the given frequency and duty cycle. Sysfs
// calls the on-time "duty_cycle" and measures it in nanoseconds; we call it
// the active duration. The kernel never allows the active duration to
// exceed the period, so the write order depends on whether the period is
// shrinking.
func (pwm *pwmDevice) SetPwm(freqHz uint, dutyCyclePct float64) error {
	pwm.mu.Lock()
	defer pwm.mu.Unlock()

	if freqHz == 0 {
		return errors.Errorf("pwm%d: frequency must be nonzero", pwm.line)
	}
	if err := pwm.export(); err != nil {
		return err
	}
	if err := pwm.disable(); err != nil {
		return err
	}

	periodNs := uint64(1000*1000*1000) / uint64(freqHz)
	activeDurationNs := uint64(float64(periodNs) * dutyCyclePct)
	pwm.logger.Debugf("pwm%d: %dHz at %.3f (%dns of %dns)",
		pwm.line, freqHz, dutyCyclePct, activeDurationNs, periodNs)

	if periodNs < pwm.activeDurationNs {
		// The period is shrinking below the old active duration, so the
		// active duration has to move down first.
		if err := writeValue(pwm.lineFile("duty_cycle"), activeDurationNs); err != nil {
			return err
		}
		pwm.activeDurationNs = activeDurationNs
		if err := writeValue(pwm.lineFile("period"), periodNs); err != nil {
			return err
		}
		pwm.periodNs = periodNs
	} else {
		if err := writeValue(pwm.lineFile("period"), periodNs); err != nil {
			return err
		}
		pwm.periodNs = periodNs
		if err := writeValue(pwm.lineFile("duty_cycle"), activeDurationNs); err != nil {
			return err
		}
		pwm.activeDurationNs = activeDurationNs
	}
	return pwm.enable()
}

// Off stops the output but keeps the channel exported, so a later SetPwm
// picks it back up without waiting on sysfs again.
func (pwm *pwmDevice) Off() error {
	pwm.mu.Lock()
	defer pwm.mu.Unlock()

	if !pwm.isExported {
		return nil
	}
	return pwm.disable()
}

// Close stops the output and returns the channel to the kernel.
func (pwm *pwmDevice) Close() error {
	pwm.mu.Lock()
	defer pwm.mu.Unlock()

	if !pwm.isExported {
		return nil
	}
	return multierr.Combine(pwm.disable(), pwm.unexport())
}
