package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/nf/vip/chip8"
)

// symbols is a list of labels sorted by address.
type symbols []symbol

func (s symbols) forAddr(addr uint16) (ss []symbol) {
	i := sort.Search(len(s), func(i int) bool { return s[i].addr >= addr })
	for ; i < len(s); i++ {
		if s[i].addr != addr {
			break
		}
		ss = append(ss, s[i])
	}
	return ss
}

// resolve returns the symbol for a label, or for a hex address.
func (s symbols) resolve(arg string) (symbol, bool) {
	for _, sym := range s {
		if sym.label == arg {
			return sym, true
		}
	}
	addr, err := parseAddr(arg)
	if err != nil {
		return symbol{}, false
	}
	if ss := s.forAddr(addr); len(ss) > 0 {
		return ss[0], true
	}
	return symbol{addr: addr, label: fmt.Sprintf("%.4x", addr)}, true
}

func (s symbols) withLabelPrefix(prefix string) (ss []symbol) {
	for _, sym := range s {
		if strings.HasPrefix(sym.label, prefix) {
			ss = append(ss, sym)
		}
	}
	return ss
}

type symbol struct {
	addr  uint16
	label string
}

func (s symbol) String() string { return fmt.Sprintf("%s (%.4x)", s.label, s.addr) }

func parseAddr(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	n, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	if n >= chip8.MemSize {
		return 0, fmt.Errorf("address %.4x out of range", n)
	}
	return uint16(n), nil
}

// readSymbols reads a symbol file. A missing file yields no symbols.
func readSymbols(symFile string) (symbols, error) {
	b, err := os.ReadFile(symFile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ss, err := parseSymbols(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", symFile, err)
	}
	return ss, nil
}

// parseSymbols parses lines of the form "label address", with the address
// in hex. Blank lines and lines starting with # are ignored.
func parseSymbols(b []byte) (symbols, error) {
	var (
		ss   symbols
		sc   = bufio.NewScanner(bytes.NewReader(b))
		line = 0
	)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '#' {
			continue
		}
		f := strings.Fields(text)
		if len(f) != 2 {
			return nil, fmt.Errorf("line %d: want label and address, got %q", line, text)
		}
		addr, err := parseAddr(f[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ss = append(ss, symbol{addr: addr, label: f[0]})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(ss, func(i, j int) bool {
		return ss[i].addr < ss[j].addr
	})
	return ss, nil
}
