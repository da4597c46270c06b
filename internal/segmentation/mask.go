package segmentation

import (
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/chai2010/webp"
)

// Mask is a per-pixel boolean membership map for one tracked object on
// one frame, stored as a packed bitset. Fields are exported so masks
// survive the gob encoding used by the plugin transport.
type Mask struct {
	Width  int
	Height int
	Bits   []uint64
}

// NewMask creates an empty mask of the given dimensions
func NewMask(width, height int) *Mask {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	words := (width*height + 63) / 64
	return &Mask{
		Width:  width,
		Height: height,
		Bits:   make([]uint64, words),
	}
}

func (m *Mask) index(x, y int) (word int, bit uint) {
	pos := y*m.Width + x
	return pos / 64, uint(pos % 64)
}

// Set marks the pixel as part of the object
func (m *Mask) Set(x, y int) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	word, bit := m.index(x, y)
	m.Bits[word] |= 1 << bit
}

// Get reports whether the pixel belongs to the object
func (m *Mask) Get(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	word, bit := m.index(x, y)
	return m.Bits[word]&(1<<bit) != 0
}

// Clear removes the pixel from the object
func (m *Mask) Clear(x, y int) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	word, bit := m.index(x, y)
	m.Bits[word] &^= 1 << bit
}

// Area returns the number of set pixels
func (m *Mask) Area() int {
	count := 0
	for _, word := range m.Bits {
		for ; word != 0; word &= word - 1 {
			count++
		}
	}
	return count
}

// Coverage returns the set fraction as a percentage of the frame
func (m *Mask) Coverage() float64 {
	total := m.Width * m.Height
	if total == 0 {
		return 0
	}
	return float64(m.Area()) / float64(total) * 100
}

// Image renders the mask as an 8-bit grayscale image, white for object
// pixels
func (m *Mask) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.Get(x, y) {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

// WriteWebP encodes the mask losslessly as a WebP image
func (m *Mask) WriteWebP(w io.Writer) error {
	if m.Width == 0 || m.Height == 0 {
		return fmt.Errorf("cannot encode empty mask")
	}
	return webp.Encode(w, m.Image(), &webp.Options{Lossless: true})
}
