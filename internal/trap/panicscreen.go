package trap

import (
	"fmt"

	"github.com/fogleman/gg"
)

// FrameSurface is the minimal contract a framebuffer driver implements
// for panicscreen to rasterize onto; the driver itself stays an external
// collaborator (spec.md §1's scope list), so this package never imports
// one directly.
type FrameSurface interface {
	Width() int
	Height() int
	// Blit copies RGBA pixels (stride == 4*Width()) into the device's
	// framebuffer memory.
	Blit(pix []byte, stride int)
}

// PanicInfo is the register/stack-style dump spec.md §4.H's fatal fault
// path produces, mirroring mazboot's traceback.go register dump.
type PanicInfo struct {
	Reason  string
	Addr    uint64
	RIP     uint64
	CR2     uint64
	ErrCode uint64
	Extra   []string
}

// RenderPanicScreen rasterizes info onto surf using fogleman/gg: a dark
// background, a banner, and monospaced register lines. It is the last
// thing the kernel draws before halting, so it deliberately avoids any
// allocation-heavy text layout beyond gg's own.
func RenderPanicScreen(surf FrameSurface, info PanicInfo) error {
	w, h := surf.Width(), surf.Height()
	if w <= 0 || h <= 0 {
		return fmt.Errorf("trap: panicscreen: invalid surface dimensions %dx%d", w, h)
	}

	dc := gg.NewContext(w, h)
	dc.SetRGB(0.05, 0.0, 0.0)
	dc.Clear()

	dc.SetRGB(1, 0.2, 0.2)
	dc.DrawString("KERNEL PANIC", 20, 40)

	dc.SetRGB(0.9, 0.9, 0.9)
	lines := []string{
		info.Reason,
		fmt.Sprintf("addr=0x%x rip=0x%x", info.Addr, info.RIP),
		fmt.Sprintf("cr2=0x%x err=0x%x", info.CR2, info.ErrCode),
	}
	lines = append(lines, info.Extra...)

	y := 80.0
	for _, line := range lines {
		dc.DrawString(line, 20, y)
		y += 18
	}

	img := dc.Image()
	bounds := img.Bounds()
	pix := make([]byte, bounds.Dx()*bounds.Dy()*4)
	stride := bounds.Dx() * 4
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			r, g, b, a := img.At(x, y).RGBA()
			off := y*stride + x*4
			pix[off] = byte(r >> 8)
			pix[off+1] = byte(g >> 8)
			pix[off+2] = byte(b >> 8)
			pix[off+3] = byte(a >> 8)
		}
	}
	surf.Blit(pix, stride)
	return nil
}
