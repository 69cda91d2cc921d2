package main

import (
	"fmt"
	"math/bits"
	"strings"

	rgchip8 "github.com/retroenv/retrogolib/arch/cpu/chip8"

	"github.com/nf/vip/chip8"
)

// lookup finds the instruction word w in the retrogolib opcode tables,
// preferring the entry with the most specific mask.
func lookup(w uint16) (*rgchip8.Instruction, bool) {
	var (
		ins  *rgchip8.Instruction
		best = -1
	)
	for _, op := range rgchip8.Opcodes[int(w>>12)] {
		if op.Info.Mask&w != op.Info.Value || op.Instruction == nil {
			continue
		}
		if n := bits.OnesCount16(op.Info.Mask); n > best {
			ins, best = op.Instruction, n
		}
	}
	return ins, ins != nil
}

// disasm returns the assembly text for the instruction word w.
func disasm(w uint16) string {
	in := chip8.Decode(w)
	if in.Op == chip8.Unknown {
		return fmt.Sprintf("??? %.4x", w)
	}
	ins, ok := lookup(w)
	if !ok {
		return in.String()
	}
	name := strings.ToUpper(ins.Name)
	if _, args, ok := strings.Cut(in.String(), " "); ok {
		return name + " " + args
	}
	return name
}

// isSkip reports whether w conditionally skips the next instruction.
func isSkip(w uint16) bool {
	ins, ok := lookup(w)
	return ok && rgchip8.SkipInstructions.Contains(ins.Name)
}

// addrForInstr returns the memory address an instruction refers to: the
// target of a jump or call, or the I register for instructions that
// access memory through it.
func addrForInstr(m *chip8.Machine, in chip8.Instr) (uint16, bool) {
	switch in.Op {
	case chip8.JP, chip8.CALL, chip8.LDI:
		return in.NNN, true
	case chip8.JPV0:
		return in.NNN + uint16(m.V[0]), true
	case chip8.DRW, chip8.BCD, chip8.STM, chip8.LDM:
		return m.I, true
	}
	return 0, false
}
