package chip8

import (
	"fmt"
	"strings"
)

// StackDepth is the number of return addresses a Stack can hold.
const StackDepth = 16

// Stack implements the CHIP-8 call stack.
type Stack struct {
	Addrs [StackDepth]uint16
	Ptr   byte // next free slot
}

// Push pushes addr onto the stack.
// It returns Overflow if the stack is full.
func (s *Stack) Push(addr uint16) error {
	if s.Ptr == StackDepth {
		return Overflow
	}
	s.Addrs[s.Ptr] = addr
	s.Ptr++
	return nil
}

// Pop removes and returns the most recently pushed address.
// It returns Underflow if the stack is empty.
func (s *Stack) Pop() (uint16, error) {
	if s.Ptr == 0 {
		return 0, Underflow
	}
	s.Ptr--
	return s.Addrs[s.Ptr], nil
}

// Len returns the number of addresses on the stack.
func (s *Stack) Len() int { return int(s.Ptr) }

func (s Stack) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for _, v := range s.Addrs[:s.Ptr] {
		b.WriteByte(' ')
		fmt.Fprintf(&b, "%.3x", v)
	}
	b.WriteByte(' ')
	b.WriteByte(')')
	return b.String()
}
