package cosmac

import (
	"fmt"
	"image"
	"os"
	"time"

	"github.com/retroenv/retrogolib/log"
	"golang.org/x/exp/shiny/driver"
	"golang.org/x/exp/shiny/screen"
	"golang.org/x/image/draw"
	"golang.org/x/mobile/event/key"
	"golang.org/x/mobile/event/lifecycle"
	"golang.org/x/mobile/event/paint"
	"golang.org/x/mobile/event/size"

	"github.com/nf/vip/chip8"
)

func newGUI(cfg Config, logger *log.Logger) *gui {
	return &gui{cfg: cfg, log: logger, ops: -1}
}

type gui struct {
	cfg Config
	log *log.Logger

	keys keyQueue

	px    *image.RGBA // one pixel per CHIP-8 pixel
	buf   screen.Buffer
	tex   screen.Texture
	ops   int // updated to match the display's ops after copying
	dirty bool
}

func (g *gui) Run(f frames, exit <-chan bool) error {
	var runErr error
	driver.Main(func(s screen.Screen) {
		w, err := s.NewWindow(&screen.NewWindowOptions{
			Title:  "vip",
			Width:  chip8.Width * g.cfg.Scale,
			Height: chip8.Height * g.cfg.Scale,
		})
		if err != nil {
			runErr = err
			return
		}
		defer w.Release()

		if err := g.alloc(s); err != nil {
			runErr = err
			return
		}
		defer g.release()

		type update struct{}
		go func() {
			t := time.NewTicker(time.Second / TimerHz)
			defer t.Stop()
			for {
				select {
				case <-t.C:
					w.Send(update{})
				case <-exit:
					// Wake the event loop so it sees exit.
					w.Send(update{})
					return
				}
			}
		}()

		var sz size.Event
		for {
			e := w.NextEvent()

			select {
			case <-exit:
				return
			default:
			}

			switch e := e.(type) {
			case size.Event:
				sz = e
				if sz.WidthPx+sz.HeightPx == 0 {
					return
				}
				g.dirty = true

			case lifecycle.Event:
				if e.To == lifecycle.StageDead {
					return
				}

			case paint.Event:
				g.dirty = true

			case key.Event:
				if e.Code == key.CodeEscape {
					return
				}
				k, ok := KeyForRune(e.Rune)
				if !ok {
					break
				}
				switch e.Direction {
				case key.DirPress:
					g.keys.push(k, true)
				case key.DirRelease:
					g.keys.push(k, false)
				}

			case update:
				f.poll(g.update)
				if g.dirty && sz.WidthPx > 0 {
					g.tex.Upload(image.Point{}, g.buf, g.buf.Bounds())
					w.Scale(sz.Bounds(), g.tex, g.tex.Bounds(), draw.Src, nil)
					w.Publish()
					g.dirty = false
				}

			case error:
				g.log.Error("Window event", log.Err(e))
			}
		}
	})
	return runErr
}

func (g *gui) alloc(s screen.Screen) (err error) {
	g.px = image.NewRGBA(image.Rect(0, 0, chip8.Width, chip8.Height))
	sz := image.Point{chip8.Width * g.cfg.Scale, chip8.Height * g.cfg.Scale}
	g.buf, err = s.NewBuffer(sz)
	if err != nil {
		return fmt.Errorf("allocating buffer: %w", err)
	}
	g.tex, err = s.NewTexture(sz)
	if err != nil {
		return fmt.Errorf("allocating texture: %w", err)
	}
	return nil
}

// update is called with the CPU goroutine parked.
func (g *gui) update(m *chip8.Machine) {
	g.keys.apply(m)

	if o := m.Display.Ops(); g.ops != o {
		g.ops = o
		for y := 0; y < chip8.Height; y++ {
			for x := 0; x < chip8.Width; x++ {
				c := g.cfg.Background
				if m.Display.Pixel(x, y) != 0 {
					c = g.cfg.Foreground
				}
				g.px.SetRGBA(x, y, c)
			}
		}
		dst := g.buf.RGBA()
		draw.NearestNeighbor.Scale(dst, dst.Bounds(), g.px, g.px.Bounds(), draw.Src, nil)
		g.dirty = true
	}
}

func (g *gui) release() {
	if g.tex != nil {
		g.tex.Release()
	}
	if g.buf != nil {
		g.buf.Release()
	}
}

// Tone rings the terminal bell when the sound timer starts.
func (g *gui) Tone(on bool) {
	if on {
		os.Stderr.WriteString("\a")
	}
}
