//go:build linux

// Package sunxiboard implements Viam boards backed by Allwinner PIO pin
// controllers: GPIO and PWM on the header pins, pad pulls and drive
// strength, edge interrupts, and per-bank interrupt debounce.
package sunxiboard

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	pb "go.viam.com/api/component/board/v1"
	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/grpc"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/utils"

	"sunxi/devicetree"
	"sunxi/pio"
)

// Models for the boards this module ships pin tables for, plus one whose
// table comes from an external definitions file.
var (
	ModelOrangePi3LTS = resource.NewModel("viam", "sunxi", "orangepi-3-lts")
	ModelOrangePiZero = resource.NewModel("viam", "sunxi", "orangepi-zero")
	ModelCustom       = resource.NewModel("viam", "sunxi", "custom")
)

func init() {
	for model, defName := range map[resource.Model]string{
		ModelOrangePi3LTS: opi3lts,
		ModelOrangePiZero: opiZero,
	} {
		def := boardDefinitions[defName]
		resource.RegisterComponent(
			board.API,
			model,
			resource.Registration[board.Board, *Config]{
				Constructor: func(
					ctx context.Context,
					_ resource.Dependencies,
					conf resource.Config,
					logger logging.Logger,
				) (board.Board, error) {
					return newBoard(ctx, conf, def, logger)
				},
			})
	}

	resource.RegisterComponent(
		board.API,
		ModelCustom,
		resource.Registration[board.Board, *CustomConfig]{
			Constructor: newCustomBoard,
		})
}

type sunxiBoard struct {
	resource.Named
	mu sync.Mutex

	logger logging.Logger
	def    boardDefinition

	controllers []*pio.Controller

	// gpios is keyed by header position for table pins and by pad name
	// for pads reached directly; padNames maps pad names back to header
	// positions so both spellings land on the same pin.
	gpios      map[string]*gpioPin
	padNames   map[string]string
	interrupts map[string]*digitalInterrupt

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

func newBoard(
	ctx context.Context,
	conf resource.Config,
	def boardDefinition,
	logger logging.Logger,
) (board.Board, error) {
	newConf, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}
	b, err := buildBoard(conf.ResourceName(), def, logger)
	if err != nil {
		return nil, err
	}
	if err := b.applyConfig(ctx, newConf); err != nil {
		return nil, multierr.Combine(err, b.Close(ctx))
	}
	return b, nil
}

func newCustomBoard(
	ctx context.Context,
	_ resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (board.Board, error) {
	newConf, err := resource.NativeConfig[*CustomConfig](conf)
	if err != nil {
		return nil, err
	}
	def, err := readBoardDefsFile(newConf.BoardDefsFilePath)
	if err != nil {
		return nil, err
	}
	b, err := buildBoard(conf.ResourceName(), def, logger)
	if err != nil {
		return nil, err
	}
	if err := b.applyConfig(ctx, &newConf.Config); err != nil {
		return nil, multierr.Combine(err, b.Close(ctx))
	}
	return &customBoard{sunxiBoard: b, defsPath: newConf.BoardDefsFilePath}, nil
}

func buildBoard(name resource.Name, def boardDefinition, logger logging.Logger) (*sunxiBoard, error) {
	tree, err := devicetree.System()
	if err != nil {
		return nil, err
	}
	if err := checkBoardIdentity(tree, def); err != nil {
		return nil, err
	}

	controllers, err := attachControllers(tree, def, logger)
	if err != nil {
		return nil, err
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	b := &sunxiBoard{
		Named:       name.AsNamed(),
		logger:      logger,
		def:         def,
		controllers: controllers,
		gpios:       map[string]*gpioPin{},
		padNames:    map[string]string{},
		interrupts:  map[string]*digitalInterrupt{},
		cancelCtx:   cancelCtx,
		cancelFunc:  cancelFunc,
	}

	if err := b.initHeaderPins(); err != nil {
		return nil, multierr.Combine(err, b.Close(context.Background()))
	}
	return b, nil
}

// attachControllers maps every PIO block the tree describes. A definitions
// file can carry its own controller geometry; it attaches first and shadows
// any built-in description of the same node.
func attachControllers(tree *devicetree.Tree, def boardDefinition, logger logging.Logger) ([]*pio.Controller, error) {
	var ctrls []*pio.Controller
	if def.Variant != nil {
		ctrl, err := pio.AttachVariant(tree, def.Variant, logger)
		if err != nil {
			return nil, err
		}
		ctrls = append(ctrls, ctrl)
	}

	known, err := pio.AttachSystem(tree, logger)
	switch {
	case err == nil:
	case errors.Is(err, pio.ErrNoController) && len(ctrls) > 0:
		known = nil
	default:
		for _, ctrl := range ctrls {
			utils.UncheckedError(ctrl.Close())
		}
		return nil, err
	}
	for _, ctrl := range known {
		if len(ctrls) > 0 && ctrl.Node() == ctrls[0].Node() {
			utils.UncheckedError(ctrl.Close())
			continue
		}
		ctrls = append(ctrls, ctrl)
	}
	return ctrls, nil
}

func checkBoardIdentity(tree *devicetree.Tree, def boardDefinition) error {
	if len(def.Compats) == 0 {
		return nil
	}
	have, err := tree.Compatible("/")
	if err != nil {
		return errors.Wrap(err, "reading the board's compatible property")
	}
	for _, want := range def.Compats {
		for _, c := range have {
			if c == want {
				return nil
			}
		}
	}
	return errors.Errorf("device tree says %q, not a %s", have, def.Model)
}

// Call this only before the board is shared; it doesn't lock.
func (b *sunxiBoard) initHeaderPins() error {
	for _, pinDef := range b.def.Pins {
		pin, err := b.makeHeaderPin(pinDef)
		if err != nil {
			return err
		}
		pad, err := pio.ParsePin(pinDef.Pad)
		if err != nil {
			return err
		}
		b.gpios[pinDef.Name] = pin
		b.padNames[pad.String()] = pinDef.Name
	}
	return nil
}

func (b *sunxiBoard) makeHeaderPin(pinDef pinDefinition) (*gpioPin, error) {
	pad, err := pio.ParsePin(pinDef.Pad)
	if err != nil {
		return nil, errors.Wrapf(err, "pin table of %s", b.def.Model)
	}
	ctrl, ok := b.controllerFor(pad)
	if !ok {
		return nil, errors.Errorf("pin table of %s: no controller owns %s", b.def.Model, pad)
	}

	pin := &gpioPin{
		name:       pinDef.Name,
		devicePath: b.chipDevFor(ctrl),
		offset:     uint32(ctrl.Variant().Line(pad)),
		cancelCtx:  b.cancelCtx,
		waitGroup:  &b.activeBackgroundWorkers,
		logger:     b.logger,
	}

	if pinDef.PwmChipSysfsDir != "" {
		chipPath, err := findPwmChip(pinDef.PwmChipSysfsDir)
		if err != nil {
			// Likely a missing overlay; the pad still works as a GPIO.
			b.logger.Warnw("hardware PWM unavailable",
				"pin", pinDef.Name, "pad", pinDef.Pad, "error", err)
		} else {
			pin.hwPwm = newPwmDevice(chipPath, pinDef.PwmID, b.logger)
			// The PWM block claims the pad; don't fight it over the line.
			pin.devicePath = ""
		}
	}
	return pin, nil
}

func (b *sunxiBoard) controllerFor(pad pio.Pin) (*pio.Controller, bool) {
	for _, c := range b.controllers {
		if c.Owns(pad) {
			return c, true
		}
	}
	return nil, false
}

func (b *sunxiBoard) chipDevFor(ctrl *pio.Controller) string {
	if ctrl.Variant().FirstPort == 'L' {
		return b.def.AlwaysOnGpioChip
	}
	return b.def.MainGpioChip
}

func (b *sunxiBoard) isMain(ctrl *pio.Controller) bool {
	return ctrl.Variant().FirstPort != 'L'
}

func (b *sunxiBoard) headerDef(name string) (pinDefinition, bool) {
	for _, pinDef := range b.def.Pins {
		if pinDef.Name == name {
			return pinDef, true
		}
	}
	return pinDefinition{}, false
}

// canonicalName maps a user-facing pin name (header position or pad name)
// to the key the pin maps use.
func (b *sunxiBoard) canonicalName(name string) string {
	if _, ok := b.gpios[name]; ok {
		return name
	}
	if pad, err := pio.ParsePin(name); err == nil {
		if header, ok := b.padNames[pad.String()]; ok {
			return header
		}
		return pad.String()
	}
	return name
}

// lookupGpioPin finds or creates the pin behind a user-facing name. Pads
// that aren't on the board's header work too, addressed by pad name.
// Call this only with the mutex locked.
func (b *sunxiBoard) lookupGpioPin(name string) (*gpioPin, error) {
	key := b.canonicalName(name)
	if pin, ok := b.gpios[key]; ok {
		return pin, nil
	}
	if pinDef, ok := b.headerDef(key); ok {
		pin, err := b.makeHeaderPin(pinDef)
		if err != nil {
			return nil, err
		}
		b.gpios[key] = pin
		return pin, nil
	}

	pad, err := pio.ParsePin(name)
	if err != nil {
		return nil, errors.Errorf("unknown pin %q on %s", name, b.def.Model)
	}
	ctrl, ok := b.controllerFor(pad)
	if !ok {
		return nil, errors.Errorf("no controller owns %s", pad)
	}
	pin := &gpioPin{
		name:       pad.String(),
		devicePath: b.chipDevFor(ctrl),
		offset:     uint32(ctrl.Variant().Line(pad)),
		cancelCtx:  b.cancelCtx,
		waitGroup:  &b.activeBackgroundWorkers,
		logger:     b.logger,
	}
	b.gpios[pad.String()] = pin
	return pin, nil
}

// padFor resolves a user-facing pin name to its pad.
func (b *sunxiBoard) padFor(name string) (pio.Pin, error) {
	if pinDef, ok := b.headerDef(name); ok {
		return pio.ParsePin(pinDef.Pad)
	}
	return pio.ParsePin(name)
}

// Reconfigure applies debounce, pad setup, and interrupt changes.
func (b *sunxiBoard) Reconfigure(ctx context.Context, _ resource.Dependencies, conf resource.Config) error {
	newConf, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return err
	}
	return b.applyConfig(ctx, newConf)
}

func (b *sunxiBoard) applyConfig(ctx context.Context, newConf *Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.reconfigureDebounce(newConf); err != nil {
		return err
	}
	if err := b.reconfigurePads(newConf); err != nil {
		return err
	}
	return b.reconfigureInterrupts(newConf)
}

// reconfigureDebounce programs each controller's interrupt debounce from
// the device tree, with the config overriding the main controller's
// values. The override replaces values only: a controller whose clocks
// can't feed the prescalers stays untouched either way.
func (b *sunxiBoard) reconfigureDebounce(newConf *Config) error {
	for _, ctrl := range b.controllers {
		refs, spec := ctrl.TreeDebounce()
		if len(newConf.InputDebounceUS) > 0 && b.isMain(ctrl) {
			banks := ctrl.Variant().IrqBanks
			if len(newConf.InputDebounceUS) != banks {
				return errors.Errorf("input_debounce_us needs %d values for %s, got %d",
					banks, ctrl.Variant().Compatible, len(newConf.InputDebounceUS))
			}
			spec = pio.DebounceValues(newConf.InputDebounceUS...)
		}
		if err := ctrl.SetupDebounce(ctrl.TreeClocks(), refs, spec); err != nil {
			return err
		}
	}
	return nil
}

func (b *sunxiBoard) reconfigurePads(newConf *Config) error {
	for _, pc := range newConf.Pins {
		pad, err := b.padFor(pc.Name)
		if err != nil {
			return errors.Wrapf(err, "pin %q", pc.Name)
		}
		ctrl, ok := b.controllerFor(pad)
		if !ok {
			return errors.Errorf("no controller owns %s", pad)
		}
		if pc.Pull != "" {
			pull, err := parsePull(pc.Pull)
			if err != nil {
				return err
			}
			if err := ctrl.SetPull(pad, pull); err != nil {
				return err
			}
		}
		if pc.Drive != nil {
			if err := ctrl.SetDriveLevel(pad, *pc.Drive); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *sunxiBoard) reconfigureInterrupts(newConf *Config) error {
	// Interrupts whose name or pin left the config go away; the rest stay
	// subscribed.
	for name, di := range b.interrupts {
		keep := false
		for _, ic := range newConf.DigitalInterrupts {
			if ic.Name == name && ic.Pin == di.pin {
				keep = true
				break
			}
		}
		if keep {
			continue
		}
		if err := di.Close(); err != nil {
			return err
		}
		delete(b.interrupts, name)
	}

	for _, ic := range newConf.DigitalInterrupts {
		if _, ok := b.interrupts[ic.Name]; ok {
			continue
		}
		di, err := b.createDigitalInterrupt(ic)
		if err != nil {
			return err
		}
		b.interrupts[ic.Name] = di
	}
	return nil
}

// AnalogByName implements board.Board; these SoCs route their ADC inputs
// through separate drivers, not the PIO block.
func (b *sunxiBoard) AnalogByName(name string) (board.Analog, error) {
	return nil, errors.New("analogs not supported")
}

// AnalogNames implements board.Board.
func (b *sunxiBoard) AnalogNames() []string {
	return []string{}
}

// DigitalInterruptByName returns the named interrupt, converting a GPIO
// pin into an interrupt on first use.
func (b *sunxiBoard) DigitalInterruptByName(name string) (board.DigitalInterrupt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if di, ok := b.interrupts[name]; ok {
		return di, nil
	}

	di, err := b.createDigitalInterrupt(board.DigitalInterruptConfig{Name: name, Pin: name})
	if err != nil {
		return nil, err
	}
	b.interrupts[name] = di
	return di, nil
}

// DigitalInterruptNames implements board.Board.
func (b *sunxiBoard) DigitalInterruptNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := []string{}
	for name := range b.interrupts {
		names = append(names, name)
	}
	return names
}

// GPIOPinByName returns a pin by header position or pad name. Pins serving
// as interrupts read back as inputs.
func (b *sunxiBoard) GPIOPinByName(name string) (board.GPIOPin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := b.canonicalName(name)
	for _, di := range b.interrupts {
		if di.name == name || b.canonicalName(di.pin) == key {
			return interruptPin{interrupt: di}, nil
		}
	}
	return b.lookupGpioPin(name)
}

// SetPowerMode implements board.Board.
func (b *sunxiBoard) SetPowerMode(ctx context.Context, mode pb.PowerMode, duration *time.Duration) error {
	return grpc.UnimplementedError
}

// StreamTicks starts a stream of digital interrupt ticks.
func (b *sunxiBoard) StreamTicks(ctx context.Context, interrupts []board.DigitalInterrupt, ch chan board.Tick,
	extra map[string]interface{},
) error {
	var raw []*digitalInterrupt
	for _, i := range interrupts {
		di, ok := i.(*digitalInterrupt)
		if !ok {
			return errors.New("cannot stream ticks from an interrupt not created by this board")
		}
		raw = append(raw, di)
	}

	for _, di := range raw {
		di.AddChannel(ch)
	}

	b.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		// Hold the subscriptions until the caller goes away.
		select {
		case <-ctx.Done():
		case <-b.cancelCtx.Done():
		}
		for _, di := range raw {
			di.RemoveChannel(ch)
		}
	}, b.activeBackgroundWorkers.Done)

	return nil
}

// DoCommand implements resource.Resource.
func (b *sunxiBoard) DoCommand(ctx context.Context, req map[string]interface{}) (map[string]interface{}, error) {
	return nil, resource.ErrDoUnimplemented
}

// Close shuts the monitors down and releases every descriptor and mapping
// the board holds.
func (b *sunxiBoard) Close(ctx context.Context) error {
	b.mu.Lock()
	b.cancelFunc()
	b.mu.Unlock()
	b.activeBackgroundWorkers.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	for _, pin := range b.gpios {
		err = multierr.Combine(err, pin.Close())
	}
	for _, di := range b.interrupts {
		err = multierr.Combine(err, di.Close())
	}
	for _, ctrl := range b.controllers {
		err = multierr.Combine(err, ctrl.Close())
	}
	return err
}

// customBoard is a sunxiBoard whose pin table came from a definitions
// file; the file's path can't change without rebuilding the component.
type customBoard struct {
	*sunxiBoard
	defsPath string
}

func (b *customBoard) Reconfigure(ctx context.Context, _ resource.Dependencies, conf resource.Config) error {
	newConf, err := resource.NativeConfig[*CustomConfig](conf)
	if err != nil {
		return err
	}
	if newConf.BoardDefsFilePath != b.defsPath {
		return errors.New("changing board_defs_file_path requires rebuilding the component")
	}
	return b.applyConfig(ctx, &newConf.Config)
}
