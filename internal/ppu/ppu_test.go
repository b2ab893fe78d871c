package ppu

import "testing"

func tickLine(p *PPU, n int) {
	for i := 0; i < n; i++ {
		p.Tick()
	}
}

func TestPPU_ModeScheduleWithinLine(t *testing.T) {
	var fired []int
	p := New(func(bit int) { fired = append(fired, bit) })
	p.CPUWrite(0xFF40, 0x91) // LCD on, BG on

	if got := p.stat & 0x03; got != 2 {
		t.Fatalf("initial mode = %d, want 2 (OAM)", got)
	}
	tickLine(p, oamCycles)
	if got := p.stat & 0x03; got != 3 {
		t.Fatalf("mode after oamCycles = %d, want 3 (Transfer)", got)
	}
	tickLine(p, transferCycles)
	if got := p.stat & 0x03; got != 0 {
		t.Fatalf("mode after transfer = %d, want 0 (HBlank)", got)
	}
	tickLine(p, cyclesPerLine-oamCycles-transferCycles)
	if p.ly != 1 {
		t.Fatalf("LY after one full line = %d, want 1", p.ly)
	}
}

func TestPPU_VBlankEntryRequestsInterrupt(t *testing.T) {
	var fired []int
	p := New(func(bit int) { fired = append(fired, bit) })
	p.CPUWrite(0xFF40, 0x91)

	for line := 0; line < ScreenH; line++ {
		tickLine(p, cyclesPerLine)
	}
	if p.ly != ScreenH {
		t.Fatalf("LY = %d, want %d at VBlank entry", p.ly, ScreenH)
	}
	found := false
	for _, b := range fired {
		if b == 0 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected VBlank IF request, got %v", fired)
	}
}

func TestPPU_LYWrapsAfter153(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF40, 0x91)
	for line := 0; line < 154; line++ {
		tickLine(p, cyclesPerLine)
	}
	if p.ly != 0 {
		t.Fatalf("LY after full frame = %d, want 0", p.ly)
	}
}

func TestPPU_LYCCoincidenceSetsSTATBit(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF45, 5) // LYC = 5
	p.CPUWrite(0xFF40, 0x91)
	for line := 0; line < 5; line++ {
		tickLine(p, cyclesPerLine)
	}
	if p.stat&(1<<2) == 0 {
		t.Fatalf("STAT coincidence bit not set at LY==LYC")
	}
}

func TestPPU_BackgroundTileRenderedIntoFramebuffer(t *testing.T) {
	p := New(nil)
	// Tile 0: solid color index 3 (both bitplanes all-ones) at 0x8000.
	for row := 0; row < 8; row++ {
		p.vram[row*2] = 0xFF
		p.vram[row*2+1] = 0xFF
	}
	p.CPUWrite(0xFF47, 0xE4) // identity BGP
	p.CPUWrite(0xFF40, 0x91)
	tickLine(p, oamCycles+transferCycles) // render LY=0
	if p.back[0][0] != 3 {
		t.Fatalf("pixel(0,0) = %d, want 3", p.back[0][0])
	}
}

func TestPPU_DisplaySwapsOnlyAtVBlank(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF40, 0x91)
	before := p.Display()
	for line := 0; line < ScreenH; line++ {
		tickLine(p, cyclesPerLine)
	}
	if p.Display() == before {
		t.Fatalf("Display() did not swap after VBlank entry")
	}
}

func TestPPU_VRAMLockedDuringMode3(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF40, 0x91)
	tickLine(p, oamCycles) // now in mode 3
	p.CPUWrite(0x8000, 0x42)
	if p.vram[0] == 0x42 {
		t.Fatalf("VRAM write during mode 3 should be ignored")
	}
	if got := p.CPURead(0x8000); got != 0xFF {
		t.Fatalf("VRAM read during mode 3 = %#02x, want 0xFF", got)
	}
}
