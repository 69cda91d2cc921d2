package cosmac

import (
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/nf/vip/chip8"
)

// keyHold is how long a key counts as held after the terminal reports it.
// Terminals only report presses, so keys are released by timeout.
const keyHold = 150 * time.Millisecond

// terminal draws the display with half-block characters, two pixels per
// cell, so the full display fits in 64x16 cells.
type terminal struct {
	cfg Config
	scr tcell.Screen

	keys keyQueue

	mu      sync.Mutex
	held    map[byte]time.Time // release deadline by key
	resized bool

	px  [chip8.Width * chip8.Height]byte
	ops int
}

func newTerminal(cfg Config) (*terminal, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("opening terminal: %w", err)
	}
	return newTerminalScreen(cfg, s), nil
}

func newTerminalScreen(cfg Config, s tcell.Screen) *terminal {
	return &terminal{
		cfg:  cfg,
		scr:  s,
		held: make(map[byte]time.Time),
		ops:  -1,
	}
}

func (t *terminal) Run(f frames, exit <-chan bool) error {
	if err := t.scr.Init(); err != nil {
		return fmt.Errorf("initializing terminal: %w", err)
	}
	defer t.scr.Fini()
	t.scr.HideCursor()

	quit := make(chan bool)
	go t.pollEvents(quit)

	tick := time.NewTicker(time.Second / TimerHz)
	defer tick.Stop()
	for {
		select {
		case <-exit:
			return nil
		case <-quit:
			return nil
		case now := <-tick.C:
			t.release(now)
			updated := f.poll(t.update)
			t.mu.Lock()
			resized := t.resized
			t.resized = false
			t.mu.Unlock()
			if updated || resized {
				t.draw()
			}
		}
	}
}

// pollEvents reads terminal events until the screen is finalized or the
// user asks to quit, in which case it closes quit.
func (t *terminal) pollEvents(quit chan<- bool) {
	for {
		switch e := t.scr.PollEvent().(type) {
		case nil:
			return
		case *tcell.EventResize:
			t.scr.Sync()
			t.mu.Lock()
			t.resized = true
			t.mu.Unlock()
		case *tcell.EventKey:
			switch e.Key() {
			case tcell.KeyEscape, tcell.KeyCtrlC:
				close(quit)
				return
			case tcell.KeyRune:
				if k, ok := KeyForRune(e.Rune()); ok {
					t.press(k, e.When())
				}
			}
		}
	}
}

// press records a key press, extending the hold if the key is already down.
func (t *terminal) press(k byte, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.held[k]; !ok {
		t.keys.push(k, true)
	}
	t.held[k] = now.Add(keyHold)
}

// release releases keys whose hold has expired by now.
func (t *terminal) release(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, d := range t.held {
		if !now.Before(d) {
			t.keys.push(k, false)
			delete(t.held, k)
		}
	}
}

// update is called with the CPU goroutine parked.
func (t *terminal) update(m *chip8.Machine) {
	t.keys.apply(m)
	if o := m.Display.Ops(); o != t.ops {
		t.ops = o
		t.px = m.Display.Pixels()
	}
}

func (t *terminal) draw() {
	var (
		fg = t.cfg.Foreground
		bg = t.cfg.Background
		st = tcell.StyleDefault.
			Foreground(tcell.NewRGBColor(int32(fg.R), int32(fg.G), int32(fg.B))).
			Background(tcell.NewRGBColor(int32(bg.R), int32(bg.G), int32(bg.B)))
	)
	for y := 0; y < chip8.Height/2; y++ {
		for x := 0; x < chip8.Width; x++ {
			r := halfBlock(t.px[2*y*chip8.Width+x], t.px[(2*y+1)*chip8.Width+x])
			t.scr.SetContent(x, y, r, nil, st)
		}
	}
	t.scr.Show()
}

// halfBlock returns the character for a cell showing two vertically
// stacked pixels.
func halfBlock(top, bottom byte) rune {
	switch {
	case top != 0 && bottom != 0:
		return '█'
	case top != 0:
		return '▀'
	case bottom != 0:
		return '▄'
	}
	return ' '
}

// Tone sounds the terminal bell when the sound timer starts.
func (t *terminal) Tone(on bool) {
	if on {
		t.scr.Beep()
	}
}
