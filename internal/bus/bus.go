// Package bus wires the CPU-visible 64 KiB address space to the
// cartridge, WRAM, HRAM, and the PPU/timer/joypad/interrupt subsystems,
// and performs OAM DMA, copying one byte per M-cycle over 160 M-cycles.
package bus

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/miscv32/scgb/internal/cart"
	"github.com/miscv32/scgb/internal/interrupt"
	"github.com/miscv32/scgb/internal/joypad"
	"github.com/miscv32/scgb/internal/ppu"
	"github.com/miscv32/scgb/internal/timer"
)

// Bus holds every memory-mapped subsystem and decodes CPU reads/writes to
// the correct owner.
type Bus struct {
	cart cart.Cartridge

	wram [0x2000]byte // 0xC000-0xDFFF, echoed at 0xE000-0xFDFF
	hram [0x7F]byte   // 0xFF80-0xFFFE

	ppu *ppu.PPU
	ic  *interrupt.Controller
	tm  *timer.Timer
	jp  *joypad.Joypad

	sb byte      // FF01 serial data
	sc byte      // FF02 serial control
	sw io.Writer // optional sink for transferred serial bytes

	dma       byte // FF46
	dmaActive bool
	dmaSrc    uint16
	dmaIndex  int

	bootROM     []byte
	bootEnabled bool

	flat bool
	mem  [0x10000]byte
}

// New constructs a Bus around a cartridge decoded from rom.
func New(rom []byte) *Bus {
	return NewWithCartridge(cart.New(rom))
}

// NewFlat constructs a Bus backed by a single flat 64 KiB array with no
// cartridge mapper, boot-ROM overlay, or PPU/timer register decoding: every
// address reads and writes exactly what was last stored there. This is the
// "Flat" mapping mode needed for running SM83 single-step JSON
// test vectors, which poke arbitrary bytes into arbitrary addresses
// (including ones that would otherwise be PPU or IO registers) and expect
// a plain read-after-write memory.
func NewFlat() *Bus {
	b := NewWithCartridge(cart.New(make([]byte, 0x8000)))
	b.flat = true
	return b
}

// WriteFlat seeds flat-mode memory directly, bypassing the decoded address
// map. It panics if the bus was not constructed with NewFlat.
func (b *Bus) WriteFlat(addr uint16, value byte) {
	if !b.flat {
		panic("bus: WriteFlat called on a non-flat bus")
	}
	b.mem[addr] = value
}

// ReadFlat reads flat-mode memory directly, bypassing the decoded address
// map. It panics if the bus was not constructed with NewFlat.
func (b *Bus) ReadFlat(addr uint16) byte {
	if !b.flat {
		panic("bus: ReadFlat called on a non-flat bus")
	}
	return b.mem[addr]
}

// NewWithCartridge wires a provided cartridge implementation, letting
// tests and tools inject synthetic mappers.
func NewWithCartridge(c cart.Cartridge) *Bus {
	b := &Bus{cart: c}
	b.ic = interrupt.New()
	b.tm = timer.New(func() { b.ic.Request(interrupt.Timer) })
	b.jp = joypad.New(func() { b.ic.Request(interrupt.Joypad) })
	b.ppu = ppu.New(func(bit int) { b.ic.Request(interrupt.Source(bit)) })
	return b
}

// PPU exposes the PPU for rendering and test inspection.
func (b *Bus) PPU() *ppu.PPU { return b.ppu }

// Joypad exposes the joypad for key-press delivery.
func (b *Bus) Joypad() *joypad.Joypad { return b.jp }

// Cart returns the underlying cartridge for battery save/load.
func (b *Bus) Cart() cart.Cartridge { return b.cart }

// InterruptsPending reports whether any enabled interrupt source has a
// request bit set, for the owner's dispatch and HALT-wake checks.
func (b *Bus) InterruptsPending() bool { return b.ic.Pending() }

func (b *Bus) Read(addr uint16) byte {
	if b.flat {
		return b.mem[addr]
	}
	switch {
	case addr < 0x8000:
		if b.bootEnabled && addr < 0x0100 && len(b.bootROM) >= 0x100 {
			return b.bootROM[addr]
		}
		return b.cart.Read(addr)
	case addr >= 0x8000 && addr <= 0x9FFF:
		return b.ppu.CPURead(addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		return b.cart.Read(addr)
	case addr >= 0xC000 && addr <= 0xDFFF:
		return b.wram[addr-0xC000]
	case addr >= 0xE000 && addr <= 0xFDFF:
		return b.wram[addr-0x2000-0xC000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaActive {
			return 0xFF
		}
		return b.ppu.CPURead(addr)
	case addr >= 0xFF80 && addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	case addr == 0xFF00:
		return b.jp.Read()
	case addr == 0xFF01:
		return b.sb
	case addr == 0xFF02:
		return 0x7E | (b.sc & 0x81)
	case addr == 0xFF04:
		return b.tm.DIV()
	case addr == 0xFF05:
		return b.tm.TIMA()
	case addr == 0xFF06:
		return b.tm.TMA()
	case addr == 0xFF07:
		return b.tm.TAC()
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		return b.ppu.CPURead(addr)
	case addr == 0xFF46:
		return b.dma
	case addr == 0xFF50:
		return 0xFF
	case addr == 0xFF0F:
		return b.ic.IF()
	case addr == 0xFFFF:
		return b.ic.IE()
	default:
		return 0xFF
	}
}

func (b *Bus) Write(addr uint16, value byte) {
	if b.flat {
		b.mem[addr] = value
		return
	}
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, value)
	case addr >= 0x8000 && addr <= 0x9FFF:
		b.ppu.CPUWrite(addr, value)
	case addr >= 0xA000 && addr <= 0xBFFF:
		b.cart.Write(addr, value)
	case addr >= 0xC000 && addr <= 0xDFFF:
		b.wram[addr-0xC000] = value
	case addr >= 0xE000 && addr <= 0xFDFF:
		b.wram[addr-0x2000-0xC000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaActive {
			return
		}
		b.ppu.CPUWrite(addr, value)
	case addr >= 0xFF80 && addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
	case addr == 0xFF00:
		b.jp.SetSelect(value)
	case addr == 0xFF01:
		b.sb = value
	case addr == 0xFF02:
		b.sc = value & 0x81
		if b.sc&0x80 != 0 {
			if b.sw != nil {
				_, _ = b.sw.Write([]byte{b.sb})
			}
			b.ic.Request(interrupt.Serial)
			b.sc &^= 0x80
		}
	case addr == 0xFF04:
		b.tm.ResetDiv()
	case addr == 0xFF05:
		b.tm.SetTIMA(value)
	case addr == 0xFF06:
		b.tm.SetTMA(value)
	case addr == 0xFF07:
		b.tm.SetTAC(value)
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		b.ppu.CPUWrite(addr, value)
	case addr == 0xFF46:
		b.dma = value
		b.dmaActive = true
		b.dmaSrc = uint16(value) << 8
		b.dmaIndex = 0
	case addr == 0xFF50:
		if value != 0x00 {
			b.bootEnabled = false
		}
	case addr == 0xFF0F:
		b.ic.SetIF(value)
	case addr == 0xFFFF:
		b.ic.SetIE(value)
	}
}

// SetSerialWriter sets a sink that receives bytes written via the serial
// port, used by headless test harnesses to capture link-cable output.
func (b *Bus) SetSerialWriter(w io.Writer) { b.sw = w }

// SetBootROM maps a 256-byte DMG boot ROM at 0x0000-0x00FF until a
// non-zero write to 0xFF50 disables the overlay.
func (b *Bus) SetBootROM(data []byte) {
	b.bootROM = nil
	b.bootEnabled = false
	if len(data) >= 0x100 {
		b.bootROM = make([]byte, 0x100)
		copy(b.bootROM, data[:0x100])
		b.bootEnabled = true
	}
}

// TickTimer advances the hardware timer by one dot clock. The owner calls
// this four times per M-cycle.
func (b *Bus) TickTimer() { b.tm.Tick() }

// TickPPU steps one M-cycle of OAM DMA (if active) and then the PPU's own
// mode schedule. The owner calls this once per M-cycle.
func (b *Bus) TickPPU() {
	b.stepDMA()
	b.ppu.Tick()
}

func (b *Bus) stepDMA() {
	if !b.dmaActive {
		return
	}
	v := b.Read(b.dmaSrc + uint16(b.dmaIndex))
	b.ppu.DirectOAMWrite(byte(b.dmaIndex), v)
	b.dmaIndex++
	if b.dmaIndex >= 0xA0 {
		b.dmaActive = false
	}
}

type busState struct {
	WRAM      [0x2000]byte
	HRAM      [0x7F]byte
	SB, SC    byte
	DMA       byte
	DMAActive bool
	DMASrc    uint16
	DMAIdx    int
	BootEn    bool
	PPU       []byte
	Timer     []byte
	Joypad    []byte
	Interrupt []byte
	Cart      []byte
}

// SaveState serializes the bus, subsystem state blobs, and cartridge
// battery/mapper state via gob, following the pattern established by the
// cartridge mapper types.
func (b *Bus) SaveState() []byte {
	var buf bytes.Buffer
	s := busState{
		WRAM: b.wram, HRAM: b.hram,
		SB: b.sb, SC: b.sc,
		DMA: b.dma, DMAActive: b.dmaActive, DMASrc: b.dmaSrc, DMAIdx: b.dmaIndex,
		BootEn:    b.bootEnabled,
		PPU:       b.ppu.SaveState(),
		Timer:     b.tm.SaveState(),
		Joypad:    b.jp.SaveState(),
		Interrupt: b.ic.SaveState(),
		Cart:      b.cart.SaveState(),
	}
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

// LoadState restores a state blob produced by SaveState.
func (b *Bus) LoadState(data []byte) {
	var s busState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	b.wram, b.hram = s.WRAM, s.HRAM
	b.sb, b.sc = s.SB, s.SC
	b.dma, b.dmaActive, b.dmaSrc, b.dmaIndex = s.DMA, s.DMAActive, s.DMASrc, s.DMAIdx
	b.bootEnabled = s.BootEn
	b.ppu.LoadState(s.PPU)
	b.tm.LoadState(s.Timer)
	b.jp.LoadState(s.Joypad)
	b.ic.LoadState(s.Interrupt)
	b.cart.LoadState(s.Cart)
}
