// Package ppu implements the scanline picture generator: VRAM/OAM storage,
// the LCDC/STAT/LY register file, the per-M-cycle mode schedule, and
// background/window/sprite compositing into a double-buffered framebuffer.
package ppu

import (
	"bytes"
	"encoding/gob"
)

// InterruptRequester requests an IF bit: 0 VBlank, 1 STAT.
type InterruptRequester func(bit int)

const (
	ScreenW = 160
	ScreenH = 144

	cyclesPerLine = 114 // M-cycles per scanline (456 dots / 4)
	oamCycles     = 20  // mode 2
	transferCycles = 43 // mode 3 length, modeled as fixed rather than sprite/SCX-dependent
)

// Frame is a packed 160x144 buffer of 2-bit DMG color indices (0-3, 0=lightest).
type Frame [ScreenH][ScreenW]byte

type spriteEntry struct {
	y, x, tile, attr byte
	oamIndex         int
}

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, and scanline rendering into
// a double-buffered framebuffer.
type PPU struct {
	vram [0x2000]byte // 0x8000-0x9FFF
	oam  [0xA0]byte   // 0xFE00-0xFE9F

	lcdc byte // FF40
	stat byte // FF41
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	clock int // M-cycles within current line, 0..113
	wlY   int // internal window-line counter, increments only on lines the window was drawn

	front, back *Frame

	req InterruptRequester
}

// New returns a PPU with both framebuffers cleared, the LCD off, and
// STAT mode 0, so VRAM and OAM are accessible until the LCD is enabled.
func New(req InterruptRequester) *PPU {
	p := &PPU{req: req, front: &Frame{}, back: &Frame{}}
	return p
}

// CPURead returns bytes for VRAM, OAM, and PPU IO registers.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if p.stat&0x03 == 3 {
			return 0xFF
		}
		return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	default:
		return 0xFF
	}
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO registers.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if p.stat&0x03 == 3 {
			return
		}
		p.vram[addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if prev&0x80 != 0 && value&0x80 == 0 {
			p.ly = 0
			p.clock = 0
			p.wlY = 0
			p.setMode(0)
			p.updateLYC()
		} else if prev&0x80 == 0 && value&0x80 != 0 {
			p.ly = 0
			p.clock = 0
			p.setMode(2)
			p.updateLYC()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.clock = 0
		p.updateLYC()
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	}
}

// DirectOAMWrite writes OAM bypassing the mode-2/3 access lockout, used by
// the bus during OAM DMA.
func (p *PPU) DirectOAMWrite(offset byte, value byte) { p.oam[offset] = value }

// Tick advances the PPU by one M-cycle (4 dots), following the clock%114
// per-line phase schedule.
func (p *PPU) Tick() {
	if p.lcdc&0x80 == 0 {
		return
	}

	if p.ly < ScreenH {
		// Each transition fires on the tick that brings the line clock to
		// its phase, so after N ticks of a line the phase-N mode is in effect.
		switch p.clock {
		case 0:
			p.setMode(2)
		case oamCycles - 1:
			p.setMode(3)
		case oamCycles + transferCycles - 1:
			p.renderScanline()
			p.setMode(0)
		}
	}

	p.clock++
	if p.clock >= cyclesPerLine {
		p.clock = 0
		p.ly++
		p.updateLYC()

		switch {
		case p.ly == ScreenH:
			p.setMode(1)
			p.swapBuffers()
			if p.req != nil {
				p.req(0)
			}
			if p.stat&(1<<4) != 0 && p.req != nil {
				p.req(1)
			}
		case p.ly > 153:
			p.ly = 0
			p.wlY = 0
			p.updateLYC()
			p.setMode(2)
		case p.ly < ScreenH:
			p.setMode(2)
		}
	}
}

func (p *PPU) setMode(mode byte) {
	prev := p.stat & 0x03
	p.stat = (p.stat &^ 0x03) | mode
	if prev == mode {
		return
	}
	switch mode {
	case 0:
		if p.stat&(1<<3) != 0 && p.req != nil {
			p.req(1)
		}
	case 2:
		if p.stat&(1<<5) != 0 && p.req != nil {
			p.req(1)
		}
	}
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
		if p.stat&(1<<6) != 0 && p.req != nil {
			p.req(1)
		}
	} else {
		p.stat &^= 1 << 2
	}
}

func (p *PPU) swapBuffers() { p.front, p.back = p.back, p.front }

// Display returns the most recently completed frame. The caller must not
// mutate it; it is replaced (not rewritten in place) on the next swap.
func (p *PPU) Display() *Frame { return p.front }

func (p *PPU) tileData(index byte, row int, signedAddressing bool) (lo, hi byte) {
	var base uint16
	if signedAddressing {
		base = uint16(int32(0x9000) + int32(int8(index))*16)
	} else {
		base = 0x8000 + uint16(index)*16
	}
	offset := base - 0x8000 + uint16(row*2)
	return p.vram[offset], p.vram[offset+1]
}

func pixelFromPlanes(lo, hi byte, bit int) byte {
	l := (lo >> (7 - bit)) & 1
	h := (hi >> (7 - bit)) & 1
	return (h << 1) | l
}

// renderScanline draws the background, window, and sprites for the current
// LY into the back buffer, following the LCDC bit layout and addressing
// rules below.
func (p *PPU) renderScanline() {
	row := &p.back[p.ly]

	bgEnabled := p.lcdc&0x01 != 0
	signedAddressing := p.lcdc&0x10 == 0
	bgMap := uint16(0x9800)
	if p.lcdc&0x08 != 0 {
		bgMap = 0x9C00
	}
	winMap := uint16(0x9800)
	if p.lcdc&0x40 != 0 {
		winMap = 0x9C00
	}
	windowEnabled := p.lcdc&0x20 != 0 && p.wy <= p.ly
	windowUsedThisLine := false

	bgColorIndex := [ScreenW]byte{}

	for x := 0; x < ScreenW; x++ {
		var colorIdx byte
		if windowEnabled && int(p.wx)-7 <= x {
			winX := x - (int(p.wx) - 7)
			tileX := winX / 8
			tileY := p.wlY / 8
			mapAddr := winMap + uint16(tileY)*32 + uint16(tileX)
			tileIndex := p.vram[mapAddr-0x8000]
			lo, hi := p.tileData(tileIndex, p.wlY%8, signedAddressing)
			colorIdx = pixelFromPlanes(lo, hi, winX%8)
			windowUsedThisLine = true
		} else if bgEnabled {
			bgX := (x + int(p.scx)) & 0xFF
			bgY := (int(p.ly) + int(p.scy)) & 0xFF
			tileX := bgX / 8
			tileY := bgY / 8
			mapAddr := bgMap + uint16(tileY)*32 + uint16(tileX)
			tileIndex := p.vram[mapAddr-0x8000]
			lo, hi := p.tileData(tileIndex, bgY%8, signedAddressing)
			colorIdx = pixelFromPlanes(lo, hi, bgX%8)
		}
		bgColorIndex[x] = colorIdx
		row[x] = applyPalette(p.bgp, colorIdx)
	}
	if windowUsedThisLine {
		p.wlY++
	}

	if p.lcdc&0x02 != 0 {
		p.renderSprites(row, bgColorIndex[:])
	}
}

func applyPalette(palette, colorIdx byte) byte {
	return (palette >> (colorIdx * 2)) & 0x03
}

// renderSprites scans OAM for up to 10 sprites intersecting ly (priority by
// OAM index on DMG), then composites them over the background row honoring
// x/y flip, palette selection, and background/sprite priority.
func (p *PPU) renderSprites(row *[ScreenW]byte, bgColorIndex []byte) {
	tall := p.lcdc&0x04 != 0
	spriteHeight := 8
	if tall {
		spriteHeight = 16
	}

	var candidates []spriteEntry
	for i := 0; i < 40 && len(candidates) < 10; i++ {
		base := i * 4
		y := p.oam[base]
		spriteTop := int(y) - 16
		if int(p.ly) < spriteTop || int(p.ly) >= spriteTop+spriteHeight {
			continue
		}
		candidates = append(candidates, spriteEntry{
			y: y, x: p.oam[base+1], tile: p.oam[base+2], attr: p.oam[base+3], oamIndex: i,
		})
	}

	// Draw lowest-priority sprite first so higher-priority (lower X, then
	// lower OAM index) sprites win when they overlap.
	for a := 0; a < len(candidates); a++ {
		for b := a + 1; b < len(candidates); b++ {
			ca, cb := candidates[a], candidates[b]
			aWins := ca.x < cb.x || (ca.x == cb.x && ca.oamIndex < cb.oamIndex)
			if !aWins {
				candidates[a], candidates[b] = candidates[b], candidates[a]
			}
		}
	}
	for i, j := 0, len(candidates)-1; i < j; i, j = i+1, j-1 {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}

	for _, s := range candidates {
		spriteTop := int(s.y) - 16
		line := int(p.ly) - spriteTop
		yFlip := s.attr&0x40 != 0
		xFlip := s.attr&0x20 != 0
		if yFlip {
			line = spriteHeight - 1 - line
		}
		tile := s.tile
		if tall {
			tile &^= 0x01
			if line >= 8 {
				tile |= 0x01
				line -= 8
			}
		}
		lo, hi := p.tileData(tile, line, false)
		palette := p.obp0
		if s.attr&0x10 != 0 {
			palette = p.obp1
		}
		behindBG := s.attr&0x80 != 0

		for px := 0; px < 8; px++ {
			bit := px
			if xFlip {
				bit = 7 - px
			}
			colorIdx := pixelFromPlanes(lo, hi, bit)
			if colorIdx == 0 {
				continue
			}
			screenX := int(s.x) - 8 + px
			if screenX < 0 || screenX >= ScreenW {
				continue
			}
			if behindBG && bgColorIndex[screenX] != 0 {
				continue
			}
			row[screenX] = applyPalette(palette, colorIdx)
		}
	}
}

func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }
func (p *PPU) LY() byte   { return p.ly }
func (p *PPU) STAT() byte { return 0x80 | (p.stat & 0x7F) }

type state struct {
	VRAM              [0x2000]byte
	OAM               [0xA0]byte
	LCDC, STAT        byte
	SCY, SCX, LY, LYC byte
	BGP, OBP0, OBP1   byte
	WY, WX            byte
	Clock, WlY        int
}

// SaveState serializes VRAM/OAM and the register file via gob, following
// the bus's save-state convention.
func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(state{
		VRAM: p.vram, OAM: p.oam,
		LCDC: p.lcdc, STAT: p.stat,
		SCY: p.scy, SCX: p.scx, LY: p.ly, LYC: p.lyc,
		BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1,
		WY: p.wy, WX: p.wx,
		Clock: p.clock, WlY: p.wlY,
	})
	return buf.Bytes()
}

// LoadState restores a previously captured state.
func (p *PPU) LoadState(data []byte) {
	var s state
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	p.vram, p.oam = s.VRAM, s.OAM
	p.lcdc, p.stat = s.LCDC, s.STAT
	p.scy, p.scx, p.ly, p.lyc = s.SCY, s.SCX, s.LY, s.LYC
	p.bgp, p.obp0, p.obp1 = s.BGP, s.OBP0, s.OBP1
	p.wy, p.wx = s.WY, s.WX
	p.clock, p.wlY = s.Clock, s.WlY
}
