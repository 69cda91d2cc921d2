package main

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gdamore/tcell/v2"
	"github.com/retroenv/retrogolib/log"
	"github.com/rivo/tview"

	"github.com/nf/vip/chip8"
	"github.com/nf/vip/cosmac"
)

type debugger struct {
	run *cosmac.Runner
	log *log.Logger

	logView *tview.TextView
	watch   *tview.TextView
	keys    *tview.TextView
	state   *tview.TextView
	input   *tview.InputField
	app     *tview.Application
	stopped atomic.Bool

	dbg, brk *symbol

	mu      sync.Mutex
	syms    symbols
	watches []watch
}

type watch struct {
	symbol
	short bool
}

func (d *debugger) symbols() symbols {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syms
}

func (d *debugger) setSymbols(s symbols) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syms = s
}

func newDebugger() *debugger {
	d := &debugger{
		logView: tview.NewTextView().SetMaxLines(1000),
		watch:   tview.NewTextView().SetWrap(false),
		keys: tview.NewTextView().
			SetWrap(false).
			SetTextAlign(tview.AlignCenter),
		state: tview.NewTextView().SetWrap(false),
		input: tview.NewInputField().SetLabel("> "),
		app:   tview.NewApplication(),
	}
	d.logView.SetChangedFunc(func() { d.app.Draw() })
	d.watch.SetBorder(true).SetTitle(" watch ")
	d.keys.SetBorder(true).SetTitle(" keypad ")
	d.keys.SetText(keypadContent([16]bool{}))
	d.setStyle(cosmac.ClearState)

	// The keypad box holds the 4x4 pad plus its border.
	side := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(d.watch, 0, 1, false).
		AddItem(d.keys, 6, 0, false)
	body := tview.NewFlex().
		AddItem(side, 24, 0, false).
		AddItem(d.logView, 0, 1, false)
	// State: instruction line, V registers, I and timers, stack.
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, false).
		AddItem(d.state, 4, 0, false).
		AddItem(d.input, 1, 0, true)
	d.app.SetRoot(root, true)

	d.input.SetAutocompleteFunc(d.complete)
	d.input.SetAutocompletedFunc(func(t string, index, src int) bool {
		if src != tview.AutocompletedNavigate {
			d.input.SetText(t)
		}
		return src == tview.AutocompletedEnter || src == tview.AutocompletedClick
	})
	d.input.SetDoneFunc(d.enter)
	return d
}

// complete offers symbol labels for commands that take an address.
func (d *debugger) complete(text string) (entries []string) {
	cmd, arg, ok := strings.Cut(text, " ")
	if !ok {
		return nil
	}
	switch cmd {
	case "b", "break", "d", "debug", "w", "w2", "watch", "watch2":
		for _, s := range d.symbols().withLabelPrefix(arg) {
			entries = append(entries, cmd+" "+s.label)
		}
	}
	return entries
}

func (d *debugger) enter(key tcell.Key) {
	if key != tcell.KeyEnter {
		return
	}
	cmd := strings.TrimSpace(d.input.GetText())
	d.input.SetText("")
	switch cmd {
	case "":
	case "exit":
		d.app.Stop()
	default:
		d.command(cmd)
	}
}

// command executes a debugger command other than exit.
func (d *debugger) command(cmd string) {
	if cmd, arg, ok := strings.Cut(cmd, " "); ok {
		switch cmd {
		case "b", "break", "d", "debug":
			s, ok := d.symbols().resolve(arg)
			if !ok {
				d.log.Warn("Invalid address", log.String("addr", arg))
				return
			}
			d.run.Debug(cmd, s.addr)
			d.mu.Lock()
			defer d.mu.Unlock()
			switch cmd[0] {
			case 'b':
				d.brk = &s
				d.log.Info("Set break", log.Hex("addr", s.addr))
			case 'd':
				d.dbg = &s
				d.log.Info("Set debug", log.Hex("addr", s.addr))
			}
			return
		case "w", "w2", "watch", "watch2":
			s, ok := d.symbols().resolve(arg)
			if !ok {
				d.log.Warn("Invalid address", log.String("addr", arg))
				return
			}
			d.mu.Lock()
			d.watches = append(d.watches,
				watch{symbol: s, short: strings.HasSuffix(cmd, "2")})
			d.mu.Unlock()
			d.log.Info("Watching", log.Hex("addr", s.addr))
			return
		}
	}
	switch cmd {
	case "b", "break", "d", "debug", "p", "pause", "c", "continue", "s", "step":
	default:
		d.log.Warn("Unknown command", log.String("cmd", cmd))
		return
	}
	d.run.Debug(cmd, 0)
	d.mu.Lock()
	defer d.mu.Unlock()
	switch cmd[0] {
	case 'b':
		d.brk = nil
		d.log.Info("Cleared break")
	case 'd':
		d.dbg = nil
		d.log.Info("Cleared debug")
	}
}

func (d *debugger) Run() error {
	defer d.stopped.Store(true)
	return d.app.Run()
}

type style struct{ fg, bg tcell.Color }

var stateStyles = map[cosmac.StateKind]style{
	cosmac.ClearState: {tcell.ColorBlack, tcell.ColorDarkGrey},
	cosmac.DebugState: {tcell.ColorBlack, tcell.ColorDarkGrey},
	cosmac.BreakState: {tcell.ColorYellow, tcell.ColorDarkBlue},
	cosmac.PauseState: {tcell.ColorWhite, tcell.ColorDarkBlue},
	cosmac.HaltState:  {tcell.ColorWhite, tcell.ColorDarkRed},
}

func (d *debugger) setStyle(k cosmac.StateKind) {
	if st, ok := stateStyles[k]; ok {
		d.state.SetTextColor(st.fg)
		d.state.SetBackgroundColor(st.bg)
	}
}

// StateFunc is called on the CPU goroutine, so everything read from m is
// rendered to strings before the update is queued.
func (d *debugger) StateFunc(m *chip8.Machine, k cosmac.StateKind) {
	if d.stopped.Load() {
		return
	}
	var (
		watch = d.watchContent(m)
		keys  = keypadContent(m.Keys())
		quiet = k == cosmac.QuietState || k == cosmac.ClearState
		state string
	)
	if !quiet {
		state = stateMsg(d.symbols(), m, k)
	}
	d.app.QueueUpdateDraw(func() {
		d.setStyle(k)
		d.watch.SetText(watch)
		d.keys.SetText(keys)
		if !quiet {
			d.state.SetText(state)
		}
	})
}

// keypadLayout is the hex keypad as printed on the VIP.
var keypadLayout = [4][4]byte{
	{0x1, 0x2, 0x3, 0xc},
	{0x4, 0x5, 0x6, 0xd},
	{0x7, 0x8, 0x9, 0xe},
	{0xa, 0x0, 0xb, 0xf},
}

// keypadContent draws the keypad with held keys in brackets.
func keypadContent(keys [16]bool) string {
	var b strings.Builder
	for i, row := range keypadLayout {
		if i > 0 {
			b.WriteByte('\n')
		}
		for j, k := range row {
			if j > 0 {
				b.WriteByte(' ')
			}
			if keys[k] {
				fmt.Fprintf(&b, "[%X]", k)
			} else {
				fmt.Fprintf(&b, " %X ", k)
			}
		}
	}
	return b.String()
}

func stateMsg(syms symbols, m *chip8.Machine, k cosmac.StateKind) string {
	var (
		word  uint16
		text  = "???"
		pcSym string
		sym   string
	)
	if in, ok := m.Peek(m.PC); ok {
		word = in.Word
		text = disasm(in.Word)
		if isSkip(in.Word) {
			text += " ?"
		}
		if addr, ok := addrForInstr(m, in); ok {
			if s := syms.forAddr(addr); len(s) > 0 {
				sym = s[0].String()
			}
		}
	}
	if s := syms.forAddr(m.PC); len(s) > 0 {
		pcSym = s[0].String() + " -> "
	}
	kind := "       "
	switch k {
	case cosmac.BreakState:
		kind = "[break]"
	case cosmac.DebugState:
		kind = "[debug]"
	case cosmac.PauseState:
		kind = "[pause]"
	case cosmac.HaltState:
		kind = "[HALT!]"
	}
	return fmt.Sprintf("%.4x %.4x %-16s %s %s%s\nv: % x\ni: %.4x dt: %.2x st: %.2x\nstack: %v\n",
		m.PC, word, text, kind, pcSym, sym, m.V[:], m.I, m.DT, m.ST, m.Stack)
}

func (d *debugger) watchContent(m *chip8.Machine) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var b strings.Builder
	if s := d.brk; s != nil {
		fmt.Fprintf(&b, "%s [%.4x] brk!\n", s.label, s.addr)
	}
	if s := d.dbg; s != nil {
		fmt.Fprintf(&b, "%s [%.4x] dbg?\n", s.label, s.addr)
	}
	for _, w := range d.watches {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s [%.4x] ", w.label, w.addr)
		if w.short && int(w.addr)+1 < len(m.Mem) {
			fmt.Fprintf(&b, "%.2x%.2x", m.Mem[w.addr], m.Mem[w.addr+1])
		} else {
			fmt.Fprintf(&b, "  %.2x", m.Mem[w.addr])
		}
	}
	return b.String()
}
