// Package chip8 provides an implementation of a CHIP-8 interpreter, called
// Machine, that can be used to execute CHIP-8 programs.
package chip8

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Memory layout.
const (
	MemSize      = 0x1000
	ProgramStart = 0x200 // first address available to programs
	FontAddr     = 0x050 // location of the built-in hexadecimal font
)

// font holds the 4x5 glyphs for the digits 0-F, 5 bytes each.
var font = [16 * 5]byte{
	0xf0, 0x90, 0x90, 0x90, 0xf0, // 0
	0x20, 0x60, 0x20, 0x20, 0x70, // 1
	0xf0, 0x10, 0xf0, 0x80, 0xf0, // 2
	0xf0, 0x10, 0xf0, 0x10, 0xf0, // 3
	0x90, 0x90, 0xf0, 0x10, 0x10, // 4
	0xf0, 0x80, 0xf0, 0x10, 0xf0, // 5
	0xf0, 0x80, 0xf0, 0x90, 0xf0, // 6
	0xf0, 0x10, 0x20, 0x40, 0x40, // 7
	0xf0, 0x90, 0xf0, 0x90, 0xf0, // 8
	0xf0, 0x90, 0xf0, 0x10, 0xf0, // 9
	0xf0, 0x90, 0xf0, 0x90, 0x90, // A
	0xe0, 0x90, 0xe0, 0x90, 0xe0, // B
	0xf0, 0x80, 0x80, 0x80, 0xf0, // C
	0xe0, 0x90, 0x90, 0x90, 0xe0, // D
	0xf0, 0x80, 0xf0, 0x80, 0xf0, // E
	0xf0, 0x80, 0xf0, 0x80, 0x80, // F
}

// Machine is an implementation of a CHIP-8 interpreter.
// It is not safe for concurrent use.
type Machine struct {
	Mem     [MemSize]byte
	V       [16]byte // VF doubles as the flag register
	I       uint16
	PC      uint16
	DT, ST  byte // delay and sound timers
	Stack   Stack
	Display Display

	keys  [16]bool
	state State
	wait  byte // register that receives the key while waiting
	err   error
	rnd   *rand.Rand
}

// State is the execution state of a Machine.
type State byte

const (
	Running State = iota
	WaitingForKeyInput
	Halted
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case WaitingForKeyInput:
		return "waiting for key"
	case Halted:
		return "halted"
	}
	return fmt.Sprintf("unknown (%d)", byte(s))
}

// NewMachine returns a CHIP-8 machine with the given rom loaded at
// ProgramStart. It returns an error if rom does not fit in memory.
func NewMachine(rom []byte) (*Machine, error) {
	m := &Machine{PC: ProgramStart}
	copy(m.Mem[FontAddr:], font[:])
	m.Seed(uint64(time.Now().UnixNano()))
	if err := m.Load(ProgramStart, rom); err != nil {
		return nil, err
	}
	return m, nil
}

// Load copies b into memory starting at addr.
// The interpreter area below ProgramStart cannot be loaded.
func (m *Machine) Load(addr uint16, b []byte) error {
	if addr < ProgramStart {
		return fmt.Errorf("load at %.4x: address is below %.4x", addr, ProgramStart)
	}
	if int(addr)+len(b) > len(m.Mem) {
		return fmt.Errorf("load %d bytes at %.4x: %w", len(b), addr, OutOfBounds)
	}
	copy(m.Mem[addr:], b)
	return nil
}

// Seed reseeds the random number source used by RND.
func (m *Machine) Seed(seed uint64) {
	m.rnd = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// State returns the current execution state.
func (m *Machine) State() State { return m.state }

// Err returns the HaltError that halted the machine, or nil.
func (m *Machine) Err() error { return m.err }

// Tick decrements the delay and sound timers, stopping at zero.
// It should be called at 60 Hz.
func (m *Machine) Tick() {
	if m.DT > 0 {
		m.DT--
	}
	if m.ST > 0 {
		m.ST--
	}
}

// SoundOn reports whether the sound timer is active.
func (m *Machine) SoundOn() bool { return m.ST > 0 }

// KeyDown records that key k (0x0-0xF) is held.
// If the machine is waiting for a key, k is stored in the waiting
// register and execution resumes.
func (m *Machine) KeyDown(k byte) {
	k &= 0xf
	m.keys[k] = true
	if m.state == WaitingForKeyInput {
		m.V[m.wait] = k
		m.state = Running
	}
}

// KeyUp records that key k (0x0-0xF) was released.
func (m *Machine) KeyUp(k byte) { m.keys[k&0xf] = false }

// Keys returns the set of keys currently held.
func (m *Machine) Keys() [16]bool { return m.keys }

// Halt stops the machine at the current instruction boundary.
// Subsequent calls to Exec return a HaltError with code Halt.
func (m *Machine) Halt() {
	if m.state != Halted {
		m.halt(Halt, Instr{}, m.PC)
	}
}

// Peek decodes the instruction at addr without executing it.
// It reports false if addr is not a valid fetch address.
func (m *Machine) Peek(addr uint16) (Instr, bool) {
	if int(addr) >= len(m.Mem)-1 {
		return Instr{}, false
	}
	return Decode(short(m.Mem[addr], m.Mem[addr+1])), true
}

// ErrKeyWait is returned by Exec while the machine is suspended waiting for
// a key press.
var ErrKeyWait = errors.New("waiting for key")

// Exec executes the instruction at m.PC.
// It returns ErrKeyWait if the machine is waiting for a key press, and
// otherwise only returns a non-nil error if the machine is halted.
func (m *Machine) Exec() (err error) {
	switch m.state {
	case Halted:
		return m.err
	case WaitingForKeyInput:
		return ErrKeyWait
	}

	pc := m.PC
	in, ok := m.Peek(pc)
	if !ok {
		return m.halt(OutOfBounds, Instr{}, pc)
	}
	defer func() {
		if e := recover(); e != nil {
			if code, ok := e.(HaltCode); ok {
				m.PC = pc
				err = m.halt(code, in, pc)
			} else {
				panic(e)
			}
		}
	}()

	m.PC += 2
	m.exec(in)

	if m.state == WaitingForKeyInput {
		return ErrKeyWait
	}
	return nil
}

func (m *Machine) exec(in Instr) {
	var (
		vx = &m.V[in.X]
		vy = m.V[in.Y]
	)
	switch in.Op {
	case CLS:
		m.Display.Clear()
	case RET:
		addr, err := m.Stack.Pop()
		check(err)
		m.PC = addr
	case JP:
		m.PC = in.NNN
	case CALL:
		check(m.Stack.Push(m.PC))
		m.PC = in.NNN
	case SEB:
		m.skipIf(*vx == in.KK)
	case SNEB:
		m.skipIf(*vx != in.KK)
	case SE:
		m.skipIf(*vx == vy)
	case LDB:
		*vx = in.KK
	case ADDB:
		*vx += in.KK
	case LD:
		*vx = vy
	case OR:
		*vx |= vy
	case AND:
		*vx &= vy
	case XOR:
		*vx ^= vy
	case ADD:
		sum := uint16(*vx) + uint16(vy)
		*vx = byte(sum)
		m.V[0xf] = flag(sum > 0xff)
	case SUB:
		f := flag(*vx >= vy)
		*vx -= vy
		m.V[0xf] = f
	case SHR:
		f := *vx & 0x01
		*vx >>= 1
		m.V[0xf] = f
	case SUBN:
		f := flag(vy >= *vx)
		*vx = vy - *vx
		m.V[0xf] = f
	case SHL:
		f := *vx >> 7
		*vx <<= 1
		m.V[0xf] = f
	case SNE:
		m.skipIf(*vx != vy)
	case LDI:
		m.I = in.NNN
	case JPV0:
		m.PC = in.NNN + uint16(m.V[0])
	case RND:
		*vx = byte(m.rnd.Uint32()) & in.KK
	case DRW:
		sprite := m.mem(m.I, int(in.N))
		m.V[0xf] = flag(m.Display.Draw(*vx, vy, sprite))
	case SKP:
		m.skipIf(m.keys[*vx&0xf])
	case SKNP:
		m.skipIf(!m.keys[*vx&0xf])
	case LDVDT:
		*vx = m.DT
	case LDK:
		m.state = WaitingForKeyInput
		m.wait = in.X
	case LDDT:
		m.DT = *vx
	case LDST:
		m.ST = *vx
	case ADDI:
		m.I += uint16(*vx)
	case LDF:
		m.I = FontAddr + uint16(*vx&0xf)*5
	case BCD:
		b := m.mem(m.I, 3)
		b[0], b[1], b[2] = *vx/100, *vx/10%10, *vx%10
	case STM:
		copy(m.mem(m.I, int(in.X)+1), m.V[:in.X+1])
	case LDM:
		copy(m.V[:in.X+1], m.mem(m.I, int(in.X)+1))
	default:
		panic(DecodeFault)
	}
}

func (m *Machine) skipIf(cond bool) {
	if cond {
		m.PC += 2
	}
}

// mem returns the n bytes of memory starting at addr.
func (m *Machine) mem(addr uint16, n int) []byte {
	if int(addr)+n > len(m.Mem) {
		panic(OutOfBounds)
	}
	return m.Mem[addr : int(addr)+n]
}

func (m *Machine) halt(code HaltCode, in Instr, addr uint16) error {
	m.state = Halted
	m.err = HaltError{HaltCode: code, Instr: in, Addr: addr}
	return m.err
}

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func flag(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func short(hi, lo byte) uint16 {
	return uint16(hi)<<8 + uint16(lo)
}

// HaltError is returned by Exec once the machine has halted.
type HaltError struct {
	HaltCode
	Instr Instr // zero for Halt and for fetches beyond memory
	Addr  uint16
}

func (e HaltError) Error() string {
	if e.HaltCode != DecodeFault && e.Instr == (Instr{}) {
		return fmt.Sprintf("%s at %.4x", e.HaltCode, e.Addr)
	}
	return fmt.Sprintf("%s executing %.4x (%s) at %.4x", e.HaltCode, e.Instr.Word, e.Instr, e.Addr)
}

// Unwrap returns the HaltCode so callers can match it with errors.Is.
func (e HaltError) Unwrap() error { return e.HaltCode }

// HaltCode signifies the condition that halted execution.
type HaltCode byte

const (
	Halt        HaltCode = iota // explicit request from the embedding program
	DecodeFault                 // unrecognized instruction word
	Overflow                    // call with a full stack
	Underflow                   // return with an empty stack
	OutOfBounds                 // fetch or index-relative access beyond memory
)

func (c HaltCode) String() string {
	if s, ok := map[HaltCode]string{
		Halt:        "halt",
		DecodeFault: "unknown instruction",
		Overflow:    "stack overflow",
		Underflow:   "stack underflow",
		OutOfBounds: "memory access out of bounds",
	}[c]; ok {
		return s
	}
	return fmt.Sprintf("unknown (%.2x)", byte(c))
}

func (c HaltCode) Error() string { return c.String() }
