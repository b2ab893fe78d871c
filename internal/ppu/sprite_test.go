package ppu

import "testing"

func solidTile(p *PPU, tileIndex byte, colorIdx byte) {
	lo := byte(0)
	hi := byte(0)
	if colorIdx&0x01 != 0 {
		lo = 0xFF
	}
	if colorIdx&0x02 != 0 {
		hi = 0xFF
	}
	base := int(tileIndex) * 16
	for row := 0; row < 8; row++ {
		p.vram[base+row*2] = lo
		p.vram[base+row*2+1] = hi
	}
}

func TestPPU_SpriteDrawnOverBackground(t *testing.T) {
	p := New(nil)
	solidTile(p, 0, 0) // background tile 0 = color 0
	solidTile(p, 1, 3) // sprite tile 1 = color 3
	p.CPUWrite(0xFF47, 0xE4)
	p.CPUWrite(0xFF48, 0xE4)
	p.CPUWrite(0xFF40, 0x93) // LCD on, BG on, sprites on

	p.oam[0] = 16 // Y: screen row 0
	p.oam[1] = 8  // X: screen col 0
	p.oam[2] = 1  // tile 1
	p.oam[3] = 0  // attrs

	tickLine(p, oamCycles+transferCycles)
	if p.back[0][0] != 3 {
		t.Fatalf("sprite pixel = %d, want 3", p.back[0][0])
	}
}

func TestPPU_SpriteBehindBGFlagHidesBehindNonZeroBG(t *testing.T) {
	p := New(nil)
	solidTile(p, 0, 2) // background tile 0 = color 2 (non-zero)
	solidTile(p, 1, 3)
	p.CPUWrite(0xFF47, 0xE4)
	p.CPUWrite(0xFF48, 0xE4)
	p.CPUWrite(0xFF40, 0x93)

	p.oam[0] = 16
	p.oam[1] = 8
	p.oam[2] = 1
	p.oam[3] = 0x80 // behind-BG priority

	tickLine(p, oamCycles+transferCycles)
	if p.back[0][0] != 2 {
		t.Fatalf("expected background to show through, got %d", p.back[0][0])
	}
}

func TestPPU_SpritePriorityByXThenOAMIndex(t *testing.T) {
	p := New(nil)
	solidTile(p, 0, 0)
	solidTile(p, 1, 1)
	solidTile(p, 2, 2)
	p.CPUWrite(0xFF47, 0xE4)
	p.CPUWrite(0xFF48, 0xE4)
	p.CPUWrite(0xFF40, 0x93)

	// Two sprites overlapping at screen cols 1-7; lower X wins.
	p.oam[0], p.oam[1], p.oam[2], p.oam[3] = 16, 9, 1, 0  // OAM0: x=1, color1
	p.oam[4], p.oam[5], p.oam[6], p.oam[7] = 16, 8, 2, 0  // OAM1: x=0, color2

	tickLine(p, oamCycles+transferCycles)
	if p.back[0][1] != 2 {
		t.Fatalf("expected lower-X sprite (color 2) to win, got %d", p.back[0][1])
	}
}

func TestPPU_TallSpriteSpansTwoTiles(t *testing.T) {
	p := New(nil)
	solidTile(p, 0, 0)
	solidTile(p, 2, 1) // top tile (even index forced)
	solidTile(p, 3, 2) // bottom tile
	p.CPUWrite(0xFF47, 0xE4)
	p.CPUWrite(0xFF48, 0xE4)
	p.CPUWrite(0xFF40, 0x97) // LCD on, BG on, sprites on, 8x16

	p.oam[0] = 16 // top at screen row 0
	p.oam[1] = 8
	p.oam[2] = 2
	p.oam[3] = 0

	tickLine(p, oamCycles+transferCycles)
	if p.back[0][0] != 1 {
		t.Fatalf("top half pixel = %d, want 1", p.back[0][0])
	}
}
