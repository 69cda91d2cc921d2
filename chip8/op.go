package chip8

import "fmt"

// Op identifies the class of a CHIP-8 instruction.
type Op byte

const (
	Unknown Op = iota
	CLS        // 00E0
	RET        // 00EE
	JP         // 1nnn
	CALL       // 2nnn
	SEB        // 3xkk
	SNEB       // 4xkk
	SE         // 5xy0
	LDB        // 6xkk
	ADDB       // 7xkk
	LD         // 8xy0
	OR         // 8xy1
	AND        // 8xy2
	XOR        // 8xy3
	ADD        // 8xy4
	SUB        // 8xy5
	SHR        // 8xy6
	SUBN       // 8xy7
	SHL        // 8xyE
	SNE        // 9xy0
	LDI        // Annn
	JPV0       // Bnnn
	RND        // Cxkk
	DRW        // Dxyn
	SKP        // Ex9E
	SKNP       // ExA1
	LDVDT      // Fx07
	LDK        // Fx0A
	LDDT       // Fx15
	LDST       // Fx18
	ADDI       // Fx1E
	LDF        // Fx29
	BCD        // Fx33
	STM        // Fx55
	LDM        // Fx65

	numOps
)

var opNames = [numOps]string{
	"???",
	"CLS", "RET", "JP", "CALL", "SE", "SNE", "SE", "LD", "ADD",
	"LD", "OR", "AND", "XOR", "ADD", "SUB", "SHR", "SUBN", "SHL",
	"SNE", "LD", "JP", "RND", "DRW", "SKP", "SKNP",
	"LD", "LD", "LD", "LD", "ADD", "LD", "LD", "LD", "LD",
}

// String returns the conventional mnemonic for the instruction class.
// Several classes share a mnemonic (LD in particular).
func (o Op) String() string {
	if o >= numOps {
		return opNames[Unknown]
	}
	return opNames[o]
}

// Instr is a decoded instruction word.
// Only the fields used by Op are meaningful.
type Instr struct {
	Op   Op
	Word uint16

	X, Y byte   // register indices, bits 8-11 and 4-7
	N    byte   // nibble, bits 0-3
	KK   byte   // immediate byte, bits 0-7
	NNN  uint16 // address, bits 0-11
}

// Decode decodes the instruction word w.
// Words that match no instruction decode with Op set to Unknown.
func Decode(w uint16) Instr {
	return Instr{
		Op:   decodeOp(w),
		Word: w,
		X:    byte(w>>8) & 0xf,
		Y:    byte(w>>4) & 0xf,
		N:    byte(w) & 0xf,
		KK:   byte(w),
		NNN:  w & 0xfff,
	}
}

func decodeOp(w uint16) Op {
	switch w >> 12 {
	case 0x0:
		switch w {
		case 0x00e0:
			return CLS
		case 0x00ee:
			return RET
		}
	case 0x1:
		return JP
	case 0x2:
		return CALL
	case 0x3:
		return SEB
	case 0x4:
		return SNEB
	case 0x5:
		if w&0xf == 0 {
			return SE
		}
	case 0x6:
		return LDB
	case 0x7:
		return ADDB
	case 0x8:
		switch w & 0xf {
		case 0x0:
			return LD
		case 0x1:
			return OR
		case 0x2:
			return AND
		case 0x3:
			return XOR
		case 0x4:
			return ADD
		case 0x5:
			return SUB
		case 0x6:
			return SHR
		case 0x7:
			return SUBN
		case 0xe:
			return SHL
		}
	case 0x9:
		if w&0xf == 0 {
			return SNE
		}
	case 0xa:
		return LDI
	case 0xb:
		return JPV0
	case 0xc:
		return RND
	case 0xd:
		return DRW
	case 0xe:
		switch w & 0xff {
		case 0x9e:
			return SKP
		case 0xa1:
			return SKNP
		}
	case 0xf:
		switch w & 0xff {
		case 0x07:
			return LDVDT
		case 0x0a:
			return LDK
		case 0x15:
			return LDDT
		case 0x18:
			return LDST
		case 0x1e:
			return ADDI
		case 0x29:
			return LDF
		case 0x33:
			return BCD
		case 0x55:
			return STM
		case 0x65:
			return LDM
		}
	}
	return Unknown
}

// String renders the instruction in the usual CHIP-8 assembly syntax.
func (in Instr) String() string {
	var args string
	switch in.Op {
	case Unknown:
		return fmt.Sprintf("??? %.4x", in.Word)
	case CLS, RET:
		return in.Op.String()
	case JP, CALL:
		args = fmt.Sprintf("%.3x", in.NNN)
	case SEB, SNEB, LDB, ADDB, RND:
		args = fmt.Sprintf("V%X, %.2x", in.X, in.KK)
	case SE, LD, OR, AND, XOR, ADD, SUB, SHR, SUBN, SHL, SNE:
		args = fmt.Sprintf("V%X, V%X", in.X, in.Y)
	case LDI:
		args = fmt.Sprintf("I, %.3x", in.NNN)
	case JPV0:
		args = fmt.Sprintf("V0, %.3x", in.NNN)
	case DRW:
		args = fmt.Sprintf("V%X, V%X, %d", in.X, in.Y, in.N)
	case SKP, SKNP:
		args = fmt.Sprintf("V%X", in.X)
	case LDVDT:
		args = fmt.Sprintf("V%X, DT", in.X)
	case LDK:
		args = fmt.Sprintf("V%X, K", in.X)
	case LDDT:
		args = fmt.Sprintf("DT, V%X", in.X)
	case LDST:
		args = fmt.Sprintf("ST, V%X", in.X)
	case ADDI:
		args = fmt.Sprintf("I, V%X", in.X)
	case LDF:
		args = fmt.Sprintf("F, V%X", in.X)
	case BCD:
		args = fmt.Sprintf("B, V%X", in.X)
	case STM:
		args = fmt.Sprintf("[I], V%X", in.X)
	case LDM:
		args = fmt.Sprintf("V%X, [I]", in.X)
	}
	return in.Op.String() + " " + args
}
