// Package cosmac implements the computer around a CHIP-8 interpreter:
// it paces the CPU and the 60 Hz timers, and connects the machine to a
// display, a keypad and a tone generator.
package cosmac

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"time"

	"github.com/retroenv/retrogolib/log"

	"github.com/nf/vip/chip8"
)

// Config holds the settings of a Runner.
type Config struct {
	ClockHz int // instructions per second
	Scale   int // screen pixels per CHIP-8 pixel, GUI only

	Foreground, Background color.RGBA

	Seed uint64 // random seed for RND; zero picks one from the clock
	GUI  bool   // use a window instead of the terminal
	Dev  bool   // keep running after the machine halts
}

// DefaultConfig returns the configuration used when no flags are given.
func DefaultConfig() Config {
	return Config{
		ClockHz:    700,
		Scale:      10,
		Foreground: color.RGBA{0xff, 0xff, 0xff, 0xff},
		Background: color.RGBA{0x00, 0x00, 0x00, 0xff},
		GUI:        true,
	}
}

// TimerHz is the rate at which the delay and sound timers count down.
const TimerHz = 60

// StateKind describes why a StateFunc is being called.
type StateKind int

const (
	ClearState StateKind = iota // running normally again
	QuietState                  // periodic refresh, state unchanged
	DebugState                  // passed a debug address without stopping
	BreakState                  // stopped at a breakpoint
	PauseState                  // paused or single stepping
	HaltState                   // the machine halted
)

// StateFunc is called by the CPU goroutine with the machine stopped
// between instructions. It must not retain m.
type StateFunc func(m *chip8.Machine, k StateKind)

// Runner drives a CHIP-8 machine and its front end.
type Runner struct {
	cfg   Config
	log   *log.Logger
	state StateFunc

	frames frames

	reset     chan *chip8.Machine
	resetDone chan bool
	debug     chan debugCmd
	done      chan bool // closed when the CPU goroutine returns
}

type debugCmd struct {
	cmd  string
	addr uint16
}

// NewRunner returns a Runner with the given configuration.
// The state func may be nil.
func NewRunner(cfg Config, logger *log.Logger, state StateFunc) *Runner {
	if cfg.ClockHz <= 0 {
		cfg.ClockHz = DefaultConfig().ClockHz
	}
	if cfg.Scale <= 0 {
		cfg.Scale = DefaultConfig().Scale
	}
	return &Runner{
		cfg:   cfg,
		log:   logger,
		state: state,
		frames: frames{
			update: make(chan *chip8.Machine),
			done:   make(chan bool),
		},
		reset:     make(chan *chip8.Machine),
		resetDone: make(chan bool),
		debug:     make(chan debugCmd),
		done:      make(chan bool),
	}
}

// Run executes rom until the machine halts, the user quits or ctx is
// cancelled. It returns the process exit code: 0 for a clean stop and 1 if
// the machine halted on a fault. The returned error reports problems
// setting up the machine or the front end.
func (r *Runner) Run(ctx context.Context, rom []byte) (exitCode int, err error) {
	m, err := r.newMachine(rom)
	if err != nil {
		return 1, err
	}
	var fe frontend
	if r.cfg.GUI {
		fe = newGUI(r.cfg, r.log)
	} else {
		fe, err = newTerminal(r.cfg)
		if err != nil {
			return 1, err
		}
	}
	return r.run(ctx, m, fe)
}

func (r *Runner) run(ctx context.Context, m *chip8.Machine, fe frontend) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		exit    = make(chan bool)
		execErr = make(chan error, 1)
	)
	go func() {
		defer close(exit)
		defer close(r.done)
		execErr <- r.exec(ctx, m, fe)
	}()

	feErr := fe.Run(r.frames, exit)
	cancel()
	<-exit
	err := <-execErr
	if feErr != nil {
		return 1, fmt.Errorf("front end: %w", feErr)
	}

	var h chip8.HaltError
	if !errors.As(err, &h) {
		return 0, nil
	}
	if h.HaltCode != chip8.Halt {
		r.log.Error("Machine halted", log.Err(err))
		return 1, nil
	}
	r.log.Debug("Machine stopped", log.Hex("pc", h.Addr))
	return 0, nil
}

func (r *Runner) newMachine(rom []byte) (*chip8.Machine, error) {
	m, err := chip8.NewMachine(rom)
	if err != nil {
		return nil, fmt.Errorf("loading rom: %w", err)
	}
	if r.cfg.Seed != 0 {
		m.Seed(r.cfg.Seed)
	}
	r.log.Debug("Loaded rom",
		log.Int("size", len(rom)),
		log.Hex("start", uint16(chip8.ProgramStart)))
	return m, nil
}

// Swap replaces the running machine with a new one running rom.
// It may only be used in dev mode.
func (r *Runner) Swap(rom []byte) error {
	if !r.cfg.Dev {
		panic("Swap called while not running in dev mode")
	}
	m, err := r.newMachine(rom)
	if err != nil {
		return err
	}
	select {
	case r.reset <- m:
		<-r.resetDone
		return nil
	case <-r.done:
		return errors.New("runner is not running")
	}
}

// Debug sends a debugger command to the CPU goroutine.
// Commands are "b" or "break" (break at addr, or clear with addr 0),
// "d" or "debug" (report state at addr without stopping),
// "p" or "pause", "c" or "continue", "s" or "step", and "exit".
func (r *Runner) Debug(cmd string, addr uint16) {
	select {
	case r.debug <- debugCmd{cmd, addr}:
	case <-r.done:
	}
}

// exec is the CPU goroutine. It owns m until it returns.
func (r *Runner) exec(ctx context.Context, m *chip8.Machine, tone Beeper) error {
	perTick := max(1, r.cfg.ClockHz/1000)
	var (
		clock  = time.NewTicker(time.Second * time.Duration(perTick) / time.Duration(r.cfg.ClockHz))
		timers = time.NewTicker(time.Second / TimerHz)

		paused bool
		brk    uint16
		dbg    uint16
		resume bool // skip the breakpoint check for one instruction
		sound  bool
	)
	defer clock.Stop()
	defer timers.Stop()
	defer func() {
		if sound {
			tone.Tone(false)
		}
	}()

	// stop halts m at the current instruction boundary. A machine that
	// already halted in dev mode has had its fault logged.
	stop := func() error {
		if m.State() == chip8.Halted {
			return nil
		}
		m.Halt()
		return m.Err()
	}
	report := func(k StateKind) {
		if r.state != nil {
			r.state(m, k)
		}
	}
	// step executes one instruction and reports whether the CPU should keep
	// running; a non-nil error ends exec.
	step := func() (bool, error) {
		if !resume && brk != 0 && m.PC == brk {
			paused = true
			report(BreakState)
			return false, nil
		}
		resume = false
		if dbg != 0 && m.PC == dbg {
			report(DebugState)
		}
		err := m.Exec()
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, chip8.ErrKeyWait):
			return false, nil
		}
		report(HaltState)
		if r.cfg.Dev {
			r.log.Error("Machine halted", log.Err(err))
			return false, nil
		}
		return false, err
	}

	for {
		select {
		case <-ctx.Done():
			return stop()

		case <-clock.C:
			if paused || m.State() != chip8.Running {
				continue
			}
			for i := 0; i < perTick; i++ {
				ok, err := step()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
			}

		case <-timers.C:
			m.Tick()
			if on := m.SoundOn(); on != sound {
				sound = on
				tone.Tone(on)
			}
			report(QuietState)

		case r.frames.update <- m:
			<-r.frames.done

		case newM := <-r.reset:
			m = newM
			paused, resume = false, false
			report(ClearState)
			r.resetDone <- true

		case c := <-r.debug:
			switch c.cmd {
			case "b", "break":
				brk = c.addr
				if brk != 0 {
					r.log.Debug("Breakpoint set", log.Hex("addr", brk))
				}
			case "d", "debug":
				dbg = c.addr
			case "p", "pause":
				paused = true
				report(PauseState)
			case "c", "continue":
				if paused {
					paused, resume = false, true
					report(ClearState)
				}
			case "s", "step":
				if !paused {
					paused = true
				} else if m.State() == chip8.Running {
					resume = true
					if _, err := step(); err != nil {
						return err
					}
				}
				if m.State() != chip8.Halted {
					report(PauseState)
				}
			case "exit":
				return stop()
			default:
				r.log.Warn("Unknown debug command", log.String("cmd", c.cmd))
			}
		}
	}
}

// frames is the handshake between the CPU goroutine and a front end.
// The CPU goroutine offers the machine on update whenever it is idle and
// waits on done before touching it again.
type frames struct {
	update chan *chip8.Machine
	done   chan bool
}

// poll calls fn with the machine if the CPU goroutine is idle, and reports
// whether it did so.
func (f frames) poll(fn func(m *chip8.Machine)) bool {
	select {
	case m := <-f.update:
		fn(m)
		f.done <- true
		return true
	default:
		// cpu is busy
		return false
	}
}

// frontend presents the machine to the user.
type frontend interface {
	Beeper
	// Run drives the front end until exit is closed or the user quits.
	Run(f frames, exit <-chan bool) error
}

// Beeper is the audio output of the machine. Tone is called with true when
// the sound timer becomes active and false when it runs out.
type Beeper interface {
	Tone(on bool)
}
