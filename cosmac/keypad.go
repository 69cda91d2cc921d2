package cosmac

import (
	"sync"
	"unicode"

	"github.com/nf/vip/chip8"
)

// The COSMAC VIP hex keypad is laid out
//
//	1 2 3 C
//	4 5 6 D
//	7 8 9 E
//	A 0 B F
//
// and is mapped onto the left hand side of a QWERTY keyboard.
var keypad = map[rune]byte{
	'1': 0x1, '2': 0x2, '3': 0x3, '4': 0xc,
	'q': 0x4, 'w': 0x5, 'e': 0x6, 'r': 0xd,
	'a': 0x7, 's': 0x8, 'd': 0x9, 'f': 0xe,
	'z': 0xa, 'x': 0x0, 'c': 0xb, 'v': 0xf,
}

// KeyForRune returns the keypad key for a keyboard character.
// It reports false if r is not mapped to a key.
func KeyForRune(r rune) (byte, bool) {
	k, ok := keypad[unicode.ToLower(r)]
	return k, ok
}

type keyEvent struct {
	key  byte
	down bool
}

// keyQueue collects key events from a front end until the next frame,
// when they are applied to the machine.
type keyQueue struct {
	mu     sync.Mutex
	events []keyEvent
}

func (q *keyQueue) push(k byte, down bool) {
	q.mu.Lock()
	q.events = append(q.events, keyEvent{k, down})
	q.mu.Unlock()
}

func (q *keyQueue) apply(m *chip8.Machine) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.events {
		if e.down {
			m.KeyDown(e.key)
		} else {
			m.KeyUp(e.key)
		}
	}
	q.events = q.events[:0]
}
