package chip8

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"testing"
)

func TestNewMachine(t *testing.T) {
	for _, c := range []struct {
		romSize int
		err     bool
	}{
		{0x000, false},
		{0x001, false},
		{0xdff, false},
		{0xe00, false},
		{0xe01, true},
	} {
		t.Run(fmt.Sprintf("%.3x", c.romSize), func(t *testing.T) {
			m, err := NewMachine(bytes.Repeat([]byte{1}, c.romSize))
			if c.err {
				if !errors.Is(err, OutOfBounds) {
					t.Fatalf("got error %v, want %v", err, OutOfBounds)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if m.PC != ProgramStart {
				t.Errorf("PC is %.4x, want %.4x", m.PC, ProgramStart)
			}
			for i := ProgramStart; i < len(m.Mem); i++ {
				w := byte(0)
				if i < ProgramStart+c.romSize {
					w = 1
				}
				if g := m.Mem[i]; g != w {
					t.Errorf("Mem[%.4x] == %.2x, want %.2x", i, g, w)
				}
			}
			if g := m.Mem[FontAddr : FontAddr+len(font)]; !bytes.Equal(g, font[:]) {
				t.Errorf("font is %x, want %x", g, font)
			}
		})
	}
}

func TestLoadReserved(t *testing.T) {
	m := newMachine(t)
	if err := m.Load(ProgramStart-1, []byte{1}); err == nil {
		t.Error("Load below ProgramStart succeeded")
	}
	if err := m.Load(0xfff, []byte{1}); err != nil {
		t.Errorf("Load of last byte: %v", err)
	}
	if err := m.Load(0xfff, []byte{1, 2}); !errors.Is(err, OutOfBounds) {
		t.Errorf("Load past end returned %v, want %v", err, OutOfBounds)
	}
}

func TestExec(t *testing.T) {
	c := newExecTestCase
	for i, c := range []*execTestCase{
		c(0x00e0).pixel(3, 4).want(),
		c(0x00ee).stack(0x300, 0x40a).want().stack(0x300).pc(0x40a),
		c(0x1234).want().pc(0x234),
		c(0x2234).want().stack(0x202).pc(0x234),
		c(0x2234).stack(0x210, 0x220).want().stack(0x210, 0x220, 0x202).pc(0x234),

		c(0x3142).v(1, 0x42).want().v(1, 0x42).pc(0x204),
		c(0x3142).v(1, 0x41).want().v(1, 0x41),
		c(0x4142).v(1, 0x42).want().v(1, 0x42),
		c(0x4142).v(1, 0x41).want().v(1, 0x41).pc(0x204),
		c(0x5120).v(1, 7).v(2, 7).want().v(1, 7).v(2, 7).pc(0x204),
		c(0x5120).v(1, 7).v(2, 8).want().v(1, 7).v(2, 8),
		c(0x9120).v(1, 7).v(2, 8).want().v(1, 7).v(2, 8).pc(0x204),
		c(0x9120).v(1, 7).v(2, 7).want().v(1, 7).v(2, 7),

		c(0x6a42).want().v(0xa, 0x42),
		c(0x7a01).v(0xa, 0x41).want().v(0xa, 0x42),
		c(0x7a01).v(0xa, 0xff).v(0xf, 7).want().v(0xa, 0x00).v(0xf, 7),

		c(0x8120).v(2, 9).want().v(1, 9).v(2, 9),
		c(0x8121).v(1, 0x36).v(2, 0x63).want().v(1, 0x77).v(2, 0x63),
		c(0x8122).v(1, 0x99).v(2, 0xb8).want().v(1, 0x98).v(2, 0xb8),
		c(0x8123).v(1, 0x31).v(2, 0x13).want().v(1, 0x22).v(2, 0x13),

		c(0x8124).v(1, 0xff).v(2, 0x01).want().v(1, 0x00).v(2, 0x01).v(0xf, 1),
		c(0x8124).v(1, 0x01).v(2, 0x01).v(0xf, 1).want().v(1, 0x02).v(2, 0x01),
		c(0x8f14).v(1, 0x01).v(0xf, 0x10).want().v(1, 0x01),
		c(0x8125).v(1, 0x05).v(2, 0x0a).v(0xf, 1).want().v(1, 0xfb).v(2, 0x0a),
		c(0x8125).v(1, 0x0a).v(2, 0x05).want().v(1, 0x05).v(2, 0x05).v(0xf, 1),
		c(0x8125).v(1, 0x05).v(2, 0x05).want().v(1, 0x00).v(2, 0x05).v(0xf, 1),
		c(0x8106).v(1, 0x05).want().v(1, 0x02).v(0xf, 1),
		c(0x8106).v(1, 0x04).v(0xf, 1).want().v(1, 0x02),
		c(0x8127).v(1, 0x05).v(2, 0x0a).want().v(1, 0x05).v(2, 0x0a).v(0xf, 1),
		c(0x8127).v(1, 0x0a).v(2, 0x05).v(0xf, 1).want().v(1, 0xfb).v(2, 0x05),
		c(0x810e).v(1, 0x81).want().v(1, 0x02).v(0xf, 1),
		c(0x810e).v(1, 0x41).v(0xf, 1).want().v(1, 0x82),

		c(0xa123).want().i(0x123),
		c(0xb300).v(0, 0x12).want().v(0, 0x12).pc(0x312),

		c(0xe19e).v(1, 0xa).key(0xa).want().v(1, 0xa).key(0xa).pc(0x204),
		c(0xe19e).v(1, 0xa).key(0xb).want().v(1, 0xa).key(0xb),
		c(0xe1a1).v(1, 0xa).key(0xa).want().v(1, 0xa).key(0xa),
		c(0xe1a1).v(1, 0xa).want().v(1, 0xa).pc(0x204),

		c(0xf107).dt(0x33).want().dt(0x33).v(1, 0x33),
		c(0xf115).v(1, 0x33).want().v(1, 0x33).dt(0x33),
		c(0xf118).v(1, 0x33).want().v(1, 0x33).st(0x33),
		c(0xf11e).v(1, 0x10).i(0x300).want().v(1, 0x10).i(0x310),
		c(0xf11e).v(1, 0x10).i(0xfff8).want().v(1, 0x10).i(0x0008),
		c(0xf129).v(1, 0xa).want().v(1, 0xa).i(FontAddr + 50),
		c(0xf133).v(1, 254).i(0x300).want().v(1, 254).i(0x300).mem(0x300, 2, 5, 4),
		c(0xf355).v(0, 1).v(1, 2).v(2, 3).v(3, 4).v(4, 5).i(0x300).
			want().v(0, 1).v(1, 2).v(2, 3).v(3, 4).v(4, 5).i(0x300).mem(0x300, 1, 2, 3, 4),
		c(0xf265).mem(0x300, 7, 8, 9, 10).i(0x300).
			want().i(0x300).v(0, 7).v(1, 8).v(2, 9),

		c(0xf10a).want().state(WaitingForKeyInput).error(ErrKeyWait),

		c(0x00ee).want().pc(0x200).state(Halted).
			error(HaltError{HaltCode: Underflow, Instr: Decode(0x00ee), Addr: 0x200}),
		c(0x2300).stack(make([]uint16, StackDepth)...).want().
			stack(make([]uint16, StackDepth)...).pc(0x200).state(Halted).
			error(HaltError{HaltCode: Overflow, Instr: Decode(0x2300), Addr: 0x200}),
		c(0xffff).want().pc(0x200).state(Halted).
			error(HaltError{HaltCode: DecodeFault, Instr: Decode(0xffff), Addr: 0x200}),
		c(0x0123).want().pc(0x200).state(Halted).
			error(HaltError{HaltCode: DecodeFault, Instr: Decode(0x0123), Addr: 0x200}),
		c(0xd125).i(0xffe).want().i(0xffe).pc(0x200).state(Halted).
			error(HaltError{HaltCode: OutOfBounds, Instr: Decode(0xd125), Addr: 0x200}),
		c(0xf233).i(0xffe).want().i(0xffe).pc(0x200).state(Halted).
			error(HaltError{HaltCode: OutOfBounds, Instr: Decode(0xf233), Addr: 0x200}),
		c(0xff55).i(0xff8).want().i(0xff8).pc(0x200).state(Halted).
			error(HaltError{HaltCode: OutOfBounds, Instr: Decode(0xff55), Addr: 0x200}),
	} {
		t.Run(fmt.Sprintf("%.4x_%s_%d", c.word, c.op, i), func(t *testing.T) {
			if err := c.m.Exec(); err != c.err {
				t.Fatalf("got error %v, want %v", err, c.err)
			}
			if g, w := c.m.V, c.w.V; g != w {
				t.Errorf("V is %x, want %x", g, w)
			}
			if g, w := c.m.I, c.w.I; g != w {
				t.Errorf("I is %.4x, want %.4x", g, w)
			}
			if g, w := c.m.PC, c.w.PC; g != w {
				t.Errorf("PC is %.4x, want %.4x", g, w)
			}
			if g, w := c.m.DT, c.w.DT; g != w {
				t.Errorf("DT is %d, want %d", g, w)
			}
			if g, w := c.m.ST, c.w.ST; g != w {
				t.Errorf("ST is %d, want %d", g, w)
			}
			if g, w := c.m.Stack, c.w.Stack; !stackEq(g, w) {
				t.Errorf("stack is %v, want %v", g, w)
			}
			if g, w := c.m.Mem, c.w.Mem; g != w {
				for i := range g {
					if g[i] != w[i] {
						t.Errorf("memory[%.4x] = %.2x, want %.2x", i, g[i], w[i])
					}
				}
			}
			if g, w := c.m.Display.Pixels(), c.w.Display.Pixels(); g != w {
				t.Errorf("display differs from want")
			}
			if g, w := c.m.Keys(), c.w.Keys(); g != w {
				t.Errorf("keys are %v, want %v", g, w)
			}
			if g, w := c.m.State(), c.w.state; g != w {
				t.Errorf("state is %v, want %v", g, w)
			}
		})
	}
}

func TestExecAfterHalt(t *testing.T) {
	m := newMachine(t, 0xffff, 0x6001)
	err := m.Exec()
	if !errors.Is(err, DecodeFault) {
		t.Fatalf("got error %v, want %v", err, DecodeFault)
	}
	if g := m.State(); g != Halted {
		t.Fatalf("state is %v, want %v", g, Halted)
	}
	m.KeyDown(1)
	if g := m.Exec(); g != err {
		t.Errorf("Exec after halt returned %v, want %v", g, err)
	}
	if g := m.Err(); g != err {
		t.Errorf("Err returned %v, want %v", g, err)
	}
	if m.PC != ProgramStart {
		t.Errorf("PC is %.4x, want %.4x", m.PC, ProgramStart)
	}
}

func TestHalt(t *testing.T) {
	m := newMachine(t, 0x6001, 0x6002)
	if err := m.Exec(); err != nil {
		t.Fatal(err)
	}
	m.Halt()
	want := HaltError{HaltCode: Halt, Addr: 0x202}
	if err := m.Exec(); err != want {
		t.Fatalf("got error %v, want %v", err, want)
	}
	if m.V[0] != 1 {
		t.Errorf("V0 is %d, want 1", m.V[0])
	}
	m.Halt()
	if err := m.Err(); err != want {
		t.Errorf("second Halt changed error to %v", err)
	}
}

func TestFetchOutOfBounds(t *testing.T) {
	m := newMachine(t, 0x1ffe) // JP ffe
	if err := m.Exec(); err != nil {
		t.Fatal(err)
	}
	// ffe/fff hold zeroes; 0x0000 is not an instruction.
	want := HaltError{HaltCode: DecodeFault, Instr: Decode(0), Addr: 0xffe}
	if err := m.Exec(); err != want {
		t.Fatalf("got error %v, want %v", err, want)
	}

	m = newMachine(t, 0x1fff) // JP fff
	if err := m.Exec(); err != nil {
		t.Fatal(err)
	}
	want = HaltError{HaltCode: OutOfBounds, Addr: 0xfff}
	if err := m.Exec(); err != want {
		t.Fatalf("got error %v, want %v", err, want)
	}

	m = newMachine(t, 0x60ff, 0xbf01) // JP V0, f01 lands past the end of memory
	for i := 0; i < 2; i++ {
		if err := m.Exec(); err != nil {
			t.Fatal(err)
		}
	}
	want = HaltError{HaltCode: OutOfBounds, Addr: 0x1000}
	if err := m.Exec(); err != want {
		t.Fatalf("got error %v, want %v", err, want)
	}
}

func TestHaltErrorString(t *testing.T) {
	for _, tt := range []struct {
		err  HaltError
		want string
	}{
		{HaltError{HaltCode: Halt, Addr: 0x202}, "halt at 0202"},
		{HaltError{HaltCode: OutOfBounds, Addr: 0xfff}, "memory access out of bounds at 0fff"},
		{HaltError{HaltCode: DecodeFault, Instr: Decode(0), Addr: 0xffe},
			"unknown instruction executing 0000 (??? 0000) at 0ffe"},
		{HaltError{HaltCode: Underflow, Instr: Decode(0x00ee), Addr: 0x200},
			"stack underflow executing 00ee (RET) at 0200"},
	} {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}

func TestKeyWait(t *testing.T) {
	m := newMachine(t, 0xf30a, 0x6101)
	if err := m.Exec(); err != ErrKeyWait {
		t.Fatalf("got error %v, want %v", err, ErrKeyWait)
	}
	for i := 0; i < 3; i++ {
		if err := m.Exec(); err != ErrKeyWait {
			t.Fatalf("got error %v, want %v", err, ErrKeyWait)
		}
	}
	if m.PC != 0x202 {
		t.Errorf("PC is %.4x, want 0202", m.PC)
	}
	m.Tick()
	m.KeyDown(0xc)
	if g := m.State(); g != Running {
		t.Fatalf("state is %v, want %v", g, Running)
	}
	if m.V[3] != 0xc {
		t.Errorf("V3 is %x, want c", m.V[3])
	}
	if err := m.Exec(); err != nil {
		t.Fatal(err)
	}
	if m.V[1] != 1 {
		t.Errorf("V1 is %d, want 1", m.V[1])
	}
	m.KeyUp(0xc)
	if m.Keys()[0xc] {
		t.Error("key c still held after KeyUp")
	}
}

func TestTick(t *testing.T) {
	m := newMachine(t)
	m.DT, m.ST = 2, 1
	if !m.SoundOn() {
		t.Error("SoundOn is false with ST=1")
	}
	for i := 0; i < 4; i++ {
		m.Tick()
	}
	if m.DT != 0 || m.ST != 0 {
		t.Errorf("timers are %d, %d; want 0, 0", m.DT, m.ST)
	}
	if m.SoundOn() {
		t.Error("SoundOn is true with ST=0")
	}
}

func TestAddByteTwice(t *testing.T) {
	for kk := 0; kk < 0x100; kk++ {
		for v0 := 0; v0 < 0x100; v0++ {
			w := uint16(0x7500 | kk)
			m := newMachine(t, w, w)
			m.V[5] = byte(v0)
			for i := 0; i < 2; i++ {
				if err := m.Exec(); err != nil {
					t.Fatal(err)
				}
			}
			if g, w := m.V[5], byte((v0+2*kk)%256); g != w {
				t.Fatalf("kk=%.2x v0=%.2x: V5 is %.2x, want %.2x", kk, v0, g, w)
			}
		}
	}
}

func TestStoreLoadRoundTrip(t *testing.T) {
	m := newMachine(t,
		0xa400, // LD I, 400
		0xf355, // LD [I], V3
		0x6000, 0x6100, 0x6200, 0x6300,
		0xf365, // LD V3, [I]
	)
	want := [4]byte{0xde, 0xad, 0xbe, 0xef}
	copy(m.V[:], want[:])
	for i := 0; i < 7; i++ {
		if err := m.Exec(); err != nil {
			t.Fatal(err)
		}
	}
	if g := [4]byte(m.V[:4]); g != want {
		t.Errorf("V0-V3 are %x, want %x", g, want)
	}
}

func TestDrawTwice(t *testing.T) {
	m := newMachine(t,
		0x6a3e, // LD VA, 3e
		0x6b1e, // LD VB, 1e
		0xa20c, // LD I, 20c
		0xdab3, // DRW VA, VB, 3
		0xdab3, // DRW VA, VB, 3
		0x1300, // padding
		0xff81, 0xc300,
	)
	for i := 0; i < 4; i++ {
		if err := m.Exec(); err != nil {
			t.Fatal(err)
		}
	}
	if m.V[0xf] != 0 {
		t.Errorf("VF is %d after first draw, want 0", m.V[0xf])
	}
	// Sprite wraps around the right and bottom edges.
	for _, p := range [][2]int{{62, 30}, {63, 30}, {0, 30}, {5, 30}, {62, 31}, {5, 31}, {62, 0}, {63, 0}} {
		if m.Display.Pixel(p[0], p[1]) != 1 {
			t.Errorf("pixel %v is off after first draw", p)
		}
	}
	if err := m.Exec(); err != nil {
		t.Fatal(err)
	}
	if m.V[0xf] != 1 {
		t.Errorf("VF is %d after second draw, want 1", m.V[0xf])
	}
	if g := m.Display.Pixels(); g != [Width * Height]byte{} {
		t.Error("display not blank after drawing the same sprite twice")
	}
}

func TestCallReturn(t *testing.T) {
	m := newMachine(t,
		0x2206, // CALL 206
		0x6101, // LD V1, 01
		0x0000,
		0x00ee, // RET
	)
	for i := 0; i < 2; i++ {
		if err := m.Exec(); err != nil {
			t.Fatal(err)
		}
	}
	if m.PC != 0x202 {
		t.Errorf("PC is %.4x after RET, want 0202", m.PC)
	}
	if n := m.Stack.Len(); n != 0 {
		t.Errorf("stack has %d entries, want 0", n)
	}
}

func TestRandom(t *testing.T) {
	run := func(seed uint64) [8]byte {
		m := newMachine(t, 0xc10f, 0xc10f, 0xc10f, 0xc10f, 0xc10f, 0xc10f, 0xc10f, 0xc10f)
		m.Seed(seed)
		var got [8]byte
		for i := range got {
			if err := m.Exec(); err != nil {
				t.Fatal(err)
			}
			if m.V[1]&0xf0 != 0 {
				t.Fatalf("V1 is %.2x, mask 0f not applied", m.V[1])
			}
			got[i] = m.V[1]
		}
		return got
	}
	if a, b := run(42), run(42); a != b {
		t.Errorf("same seed produced %x and %x", a, b)
	}
}

type execTestCase struct {
	word uint16
	op   Op
	m, w *Machine
	err  error
	set  *Machine
}

func newExecTestCase(w uint16) *execTestCase {
	prog := []byte{byte(w >> 8), byte(w)}
	c := &execTestCase{word: w, op: Decode(w).Op}
	c.m = mustMachine(prog)
	c.w = mustMachine(prog)
	c.w.PC += 2
	c.set = c.m
	return c
}

func (c *execTestCase) v(r int, b byte) *execTestCase {
	c.set.V[r] = b
	return c
}

func (c *execTestCase) i(addr uint16) *execTestCase {
	c.set.I = addr
	return c
}

func (c *execTestCase) pc(addr uint16) *execTestCase {
	c.set.PC = addr
	return c
}

func (c *execTestCase) dt(b byte) *execTestCase {
	c.set.DT = b
	return c
}

func (c *execTestCase) st(b byte) *execTestCase {
	c.set.ST = b
	return c
}

func (c *execTestCase) key(k byte) *execTestCase {
	c.set.KeyDown(k)
	return c
}

func (c *execTestCase) pixel(x, y byte) *execTestCase {
	c.set.Display.Draw(x, y, []byte{0x80})
	return c
}

func (c *execTestCase) state(s State) *execTestCase {
	c.set.state = s
	return c
}

func (c *execTestCase) stack(addrs ...uint16) *execTestCase {
	c.set.Stack = Stack{}
	for _, a := range addrs {
		if err := c.set.Stack.Push(a); err != nil {
			panic(err)
		}
	}
	return c
}

func (c *execTestCase) mem(addr uint16, bytes ...byte) *execTestCase {
	copy(c.set.Mem[addr:], bytes)
	if c.set == c.m {
		copy(c.w.Mem[addr:], bytes)
	}
	return c
}

func (c *execTestCase) want() *execTestCase {
	c.set = c.w
	return c
}

func (c *execTestCase) error(err error) *execTestCase {
	c.err = err
	return c
}

func stackEq(a, b Stack) bool {
	return a.Ptr == b.Ptr && slices.Equal(a.Addrs[:a.Ptr], b.Addrs[:b.Ptr])
}

func mustMachine(prog []byte) *Machine {
	m, err := NewMachine(prog)
	if err != nil {
		panic(err)
	}
	return m
}

func newMachine(t *testing.T, words ...uint16) *Machine {
	t.Helper()
	var prog []byte
	for _, w := range words {
		prog = append(prog, byte(w>>8), byte(w))
	}
	m, err := NewMachine(prog)
	if err != nil {
		t.Fatal(err)
	}
	return m
}
