package chip8

// Display dimensions in pixels.
const (
	Width  = 64
	Height = 32
)

// Display is the CHIP-8 monochrome framebuffer.
// Pixels are stored row-major, one byte per pixel, each 0 or 1.
type Display struct {
	px  [Width * Height]byte
	ops int // total count of clear and draw operations
}

// Clear sets every pixel to 0.
func (d *Display) Clear() {
	d.px = [Width * Height]byte{}
	d.ops++
}

// Draw XORs sprite onto the display with its top-left corner at (x, y).
// Each sprite byte is one row of 8 pixels, most significant bit leftmost.
// Coordinates wrap around both edges of the display.
// Draw reports whether any pixel was switched from 1 to 0.
func (d *Display) Draw(x, y byte, sprite []byte) (collision bool) {
	for row, b := range sprite {
		py := (int(y) + row) % Height
		for bit := 0; bit < 8; bit++ {
			if b&(0x80>>bit) == 0 {
				continue
			}
			i := py*Width + (int(x)+bit)%Width
			if d.px[i] == 1 {
				collision = true
			}
			d.px[i] ^= 1
		}
	}
	d.ops++
	return collision
}

// Pixel returns the value of the pixel at (x, y), which must be on screen.
func (d *Display) Pixel(x, y int) byte { return d.px[y*Width+x] }

// Pixels returns a copy of the framebuffer.
func (d *Display) Pixels() [Width * Height]byte { return d.px }

// Ops returns the number of clear and draw operations performed so far.
// Renderers compare it between frames to skip redundant uploads.
func (d *Display) Ops() int { return d.ops }
