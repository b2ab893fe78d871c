// Package cpu implements the SM83 instruction interpreter: the register
// file, the opcode decoder/executor, the CPU state machine (Execute,
// Halted, Stopped, InterruptHandler), and the EI-delay / ISR-dispatch
// mechanics that the owning aggregate drives one M-cycle at a time.
package cpu

import (
	"bytes"
	"encoding/gob"

	"github.com/miscv32/scgb/internal/bus"
)

// State is the CPU's top-level execution state.
type State int

const (
	Execute State = iota
	Halted
	Stopped
	InterruptHandler
)

// ISRSubState steps the five-stage interrupt service sequence.
type ISRSubState int

const (
	Wait1 ISRSubState = iota
	Wait2
	PCPush1
	PCPush2
	Jump
)

// Vector holds the fixed jump targets for the five interrupt sources,
// indexed VBlank, LCDStat, Timer, Serial, Joypad.
var Vector = [5]uint16{0x40, 0x48, 0x50, 0x58, 0x60}

// CPU holds the SM83 register file plus the scheduling state (idle-cycle
// counter, IME/ime-dispatch latch, ISR sub-state) that lets the owning
// aggregate drive execution one M-cycle per Tick.
type CPU struct {
	A, F byte
	B, C byte
	D, E byte
	H, L byte
	SP   uint16
	PC   uint16

	IME          bool
	imeDispatch  int  // counts down from 2 after EI; 0 means no pending enable
	imeCommitDue bool // before-execute decrement just hit zero this tick; commit after-execute

	State  State
	isrSub ISRSubState

	// Idle is the number of M-cycles remaining before the next fetch.
	Idle int

	bus *bus.Bus
}

// New returns a CPU wired to bus b with every register and flag cleared —
// the state produced by the external init() API before any ROM injection
// or boot-ROM execution.
func New(b *bus.Bus) *CPU {
	return &CPU{bus: b}
}

// Bus exposes the underlying bus for tests and tools.
func (c *CPU) Bus() *bus.Bus { return c.bus }

// SetPC lets a test harness or boot stub position the program counter.
func (c *CPU) SetPC(pc uint16) { c.PC = pc }

// Step fetches and executes exactly one instruction, ignoring interrupt
// dispatch and timer/PPU advancement, and returns the T-states it took.
// It exists for standalone CPU-only tests and tools; hosts driving the
// full machine tick one M-cycle at a time instead.
func (c *CPU) Step() int {
	n := c.FetchDecodeExecute()
	return (n + 1) * 4
}

// SkipBootROM seeds the typical DMG post-boot register values, for hosts
// that run a cartridge without executing a boot ROM image first.
func (c *CPU) SkipBootROM() {
	c.A, c.F = 0x01, 0xB0
	c.B, c.C = 0x00, 0x13
	c.D, c.E = 0x00, 0xD8
	c.H, c.L = 0x01, 0x4D
	c.SP = 0xFFFE
	c.PC = 0x0100
	c.IME = false
	c.State = Execute
	c.Idle = 0
}

const (
	flagZ byte = 1 << 7
	flagN byte = 1 << 6
	flagH byte = 1 << 5
	flagC byte = 1 << 4
)

// RequestEnableIME implements EI: the master enable latches two M-cycles
// after this call, during the tick in which the following instruction's
// fetch has already happened.
func (c *CPU) RequestEnableIME() { c.imeDispatch = 2 }

// CancelIME implements DI: IME clears immediately and any pending EI
// (including one already due to commit on this tick's after-execute phase)
// is cancelled.
func (c *CPU) CancelIME() {
	c.IME = false
	c.imeDispatch = 0
	c.imeCommitDue = false
}

// TickIMEBeforeExecute advances the EI countdown latch by one M-cycle. The
// owning aggregate calls this at the start of the tick (spec.md's ordering
// step 1), before the interrupt-dispatch check. Reaching zero here only
// arms the commit for this tick's after-execute phase — it never sets IME
// directly — so with EI executed in tick T, IME is set at the end of tick
// T+2 and the first dispatch check that can see it is in tick T+3.
func (c *CPU) TickIMEBeforeExecute() {
	if c.imeDispatch > 0 {
		c.imeDispatch--
		if c.imeDispatch == 0 {
			c.imeCommitDue = true
		}
	}
}

// TickIMEAfterExecute commits IME if this tick's before-execute step just
// armed it. The owning aggregate calls this after the CPU-execute step
// (spec.md's ordering step 7), so the commit is only visible to dispatch
// checks on the *next* tick.
func (c *CPU) TickIMEAfterExecute() {
	if c.imeCommitDue {
		c.IME = true
		c.imeCommitDue = false
	}
}

// BeginDispatch transitions the CPU into InterruptHandler at the top of a
// tick where IME and a pending interrupt were observed, matching the
// dispatch rule. The caller must still drive StepISR to advance it.
func (c *CPU) BeginDispatch() {
	c.State = InterruptHandler
	c.isrSub = Wait1
}

// CheckHaltWake wakes the CPU from Halted when an enabled interrupt is
// pending, regardless of IME.
func (c *CPU) CheckHaltWake(ieAndIF byte) {
	if c.State == Halted && ieAndIF != 0 {
		c.State = Execute
		c.Idle = 0
	}
}

// StepISR advances the five-stage interrupt service sequence by one
// M-cycle. It is only valid to call while State == InterruptHandler.
func (c *CPU) StepISR(b *bus.Bus) {
	switch c.isrSub {
	case Wait1:
		c.isrSub = Wait2
	case Wait2:
		c.isrSub = PCPush1
	case PCPush1:
		c.SP--
		b.Write(c.SP, byte(c.PC>>8))
		c.isrSub = PCPush2
	case PCPush2:
		c.SP--
		b.Write(c.SP, byte(c.PC))
		c.isrSub = Jump
	case Jump:
		ie := b.Read(0xFFFF)
		ifReg := b.Read(0xFF0F) & 0x1F
		pending := ie & ifReg
		if pending != 0 {
			var bit uint
			for bit = 0; bit < 5; bit++ {
				if pending&(1<<bit) != 0 {
					break
				}
			}
			b.Write(0xFF0F, ifReg&^(1<<bit))
			c.IME = false
			c.PC = Vector[bit]
		}
		// If nothing remains pending, software cleared it during the wait:
		// leave PC untouched and exit without writing a zero PC.
		c.isrSub = Wait1
		c.State = Execute
		c.Idle = 0
	}
}

func (c *CPU) setZNHC(z, n, h, carry bool) {
	var f byte
	if z {
		f |= flagZ
	}
	if n {
		f |= flagN
	}
	if h {
		f |= flagH
	}
	if carry {
		f |= flagC
	}
	c.F = f
}

func (c *CPU) add8(a, b byte) (res byte, z, n, h, cy bool) {
	r := uint16(a) + uint16(b)
	res = byte(r)
	z = res == 0
	h = ((a & 0x0F) + (b & 0x0F)) > 0x0F
	cy = r > 0xFF
	return
}

func (c *CPU) adc8(a, b byte, carryIn bool) (res byte, z, n, h, cy bool) {
	ci := byte(0)
	if carryIn {
		ci = 1
	}
	r := uint16(a) + uint16(b) + uint16(ci)
	res = byte(r)
	z = res == 0
	h = ((a & 0x0F) + (b & 0x0F) + ci) > 0x0F
	cy = r > 0xFF
	return
}

func (c *CPU) sub8(a, b byte) (res byte, z, n, h, cy bool) {
	r := int16(a) - int16(b)
	res = byte(r)
	z = res == 0
	n = true
	h = (a & 0x0F) < (b & 0x0F)
	cy = int16(a) < int16(b)
	return
}

func (c *CPU) sbc8(a, b byte, carryIn bool) (res byte, z, n, h, cy bool) {
	ci := byte(0)
	if carryIn {
		ci = 1
	}
	r := int16(a) - int16(b) - int16(ci)
	res = byte(r)
	z = res == 0
	n = true
	h = (a & 0x0F) < ((b & 0x0F) + ci)
	cy = int16(a) < int16(b)+int16(ci)
	return
}

func (c *CPU) and8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a & b
	z, h = res == 0, true
	return
}

func (c *CPU) xor8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a ^ b
	z = res == 0
	return
}

func (c *CPU) or8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a | b
	z = res == 0
	return
}

func (c *CPU) cp8(a, b byte) (z, n, h, cy bool) {
	_, z, n, h, cy = c.sub8(a, b)
	return
}

func (c *CPU) read8(addr uint16) byte     { return c.bus.Read(addr) }
func (c *CPU) write8(addr uint16, v byte) { c.bus.Write(addr, v) }

func (c *CPU) fetch8() byte {
	b := c.read8(c.PC)
	c.PC++
	return b
}

func (c *CPU) fetch16() uint16 {
	lo := uint16(c.fetch8())
	hi := uint16(c.fetch8())
	return lo | (hi << 8)
}

func (c *CPU) read16(addr uint16) uint16 {
	lo := uint16(c.read8(addr))
	hi := uint16(c.read8(addr + 1))
	return lo | (hi << 8)
}

func (c *CPU) write16(addr uint16, v uint16) {
	c.write8(addr, byte(v&0x00FF))
	c.write8(addr+1, byte(v>>8))
}

func (c *CPU) getAF() uint16  { return uint16(c.A)<<8 | uint16(c.F&0xF0) }
func (c *CPU) setAF(v uint16) { c.A = byte(v >> 8); c.F = byte(v) & 0xF0 }
func (c *CPU) getBC() uint16  { return uint16(c.B)<<8 | uint16(c.C) }
func (c *CPU) setBC(v uint16) { c.B = byte(v >> 8); c.C = byte(v) }
func (c *CPU) getDE() uint16  { return uint16(c.D)<<8 | uint16(c.E) }
func (c *CPU) setDE(v uint16) { c.D = byte(v >> 8); c.E = byte(v) }
func (c *CPU) getHL() uint16  { return uint16(c.H)<<8 | uint16(c.L) }
func (c *CPU) setHL(v uint16) { c.H = byte(v >> 8); c.L = byte(v) }

func (c *CPU) push16(v uint16) {
	c.SP -= 2
	c.write16(c.SP, v)
}

func (c *CPU) pop16() uint16 {
	v := c.read16(c.SP)
	c.SP += 2
	return v
}

func get8(c *CPU, idx byte) byte {
	switch idx {
	case 0:
		return c.B
	case 1:
		return c.C
	case 2:
		return c.D
	case 3:
		return c.E
	case 4:
		return c.H
	case 5:
		return c.L
	case 6:
		return c.read8(c.getHL())
	default:
		return c.A
	}
}

func set8(c *CPU, idx byte, v byte) {
	switch idx {
	case 0:
		c.B = v
	case 1:
		c.C = v
	case 2:
		c.D = v
	case 3:
		c.E = v
	case 4:
		c.H = v
	case 5:
		c.L = v
	case 6:
		c.write8(c.getHL(), v)
	default:
		c.A = v
	}
}

// FetchDecodeExecute implements the §4.2 contract: fetch one opcode
// (advancing PC), execute it (reading any immediates, advancing PC
// further), and return the instruction's M-cycle duration minus the fetch
// cycle already consumed — the idle-cycle count the owner decrements on
// subsequent ticks before the next fetch.
//
// Encountering an SM83 illegal opcode is fatal: the caller is
// expected to recover from the panic at the host boundary.
func (c *CPU) FetchDecodeExecute() int {
	op := c.fetch8()
	switch op {
	case 0x00: // NOP
		return mc(1)

	case 0x06:
		c.B = c.fetch8()
		return mc(2)
	case 0x0E:
		c.C = c.fetch8()
		return mc(2)
	case 0x16:
		c.D = c.fetch8()
		return mc(2)
	case 0x1E:
		c.E = c.fetch8()
		return mc(2)
	case 0x26:
		c.H = c.fetch8()
		return mc(2)
	case 0x2E:
		c.L = c.fetch8()
		return mc(2)
	case 0x3E:
		c.A = c.fetch8()
		return mc(2)

	case 0x76: // HALT
		c.State = Halted
		return mc(1)

	case 0x40, 0x41, 0x42, 0x43, 0x44, 0x45, 0x47,
		0x48, 0x49, 0x4A, 0x4B, 0x4C, 0x4D, 0x4F,
		0x50, 0x51, 0x52, 0x53, 0x54, 0x55, 0x57,
		0x58, 0x59, 0x5A, 0x5B, 0x5C, 0x5D, 0x5F,
		0x60, 0x61, 0x62, 0x63, 0x64, 0x65, 0x67,
		0x68, 0x69, 0x6A, 0x6B, 0x6C, 0x6D, 0x6F,
		0x70, 0x71, 0x72, 0x73, 0x74, 0x75, 0x77,
		0x78, 0x79, 0x7A, 0x7B, 0x7C, 0x7D, 0x7F:
		d := (op >> 3) & 7
		s := op & 7
		val := get8(c, s)
		set8(c, d, val)
		if d == 6 || s == 6 {
			return mc(2)
		}
		return mc(1)

	case 0x01:
		c.setBC(c.fetch16())
		return mc(3)
	case 0x11:
		c.setDE(c.fetch16())
		return mc(3)
	case 0x21:
		c.setHL(c.fetch16())
		return mc(3)
	case 0x31:
		c.SP = c.fetch16()
		return mc(3)
	case 0x08: // LD (a16),SP
		addr := c.fetch16()
		c.write16(addr, c.SP)
		return mc(5)

	case 0x36: // LD (HL),d8
		v := c.fetch8()
		c.write8(c.getHL(), v)
		return mc(3)

	case 0x02:
		c.write8(c.getBC(), c.A)
		return mc(2)
	case 0x12:
		c.write8(c.getDE(), c.A)
		return mc(2)
	case 0x0A:
		c.A = c.read8(c.getBC())
		return mc(2)
	case 0x1A:
		c.A = c.read8(c.getDE())
		return mc(2)

	case 0x22: // LD (HL+),A
		hl := c.getHL()
		c.write8(hl, c.A)
		c.setHL(hl + 1)
		return mc(2)
	case 0x2A: // LD A,(HL+)
		hl := c.getHL()
		c.A = c.read8(hl)
		c.setHL(hl + 1)
		return mc(2)
	case 0x32: // LD (HL-),A
		hl := c.getHL()
		c.write8(hl, c.A)
		c.setHL(hl - 1)
		return mc(2)
	case 0x3A: // LD A,(HL-)
		hl := c.getHL()
		c.A = c.read8(hl)
		c.setHL(hl - 1)
		return mc(2)

	case 0xE0: // LDH (FF00+n),A
		n := uint16(c.fetch8())
		c.write8(0xFF00+n, c.A)
		return mc(3)
	case 0xF0: // LDH A,(FF00+n)
		n := uint16(c.fetch8())
		c.A = c.read8(0xFF00 + n)
		return mc(3)
	case 0xE2: // LD (FF00+C),A
		c.write8(0xFF00+uint16(c.C), c.A)
		return mc(2)
	case 0xF2: // LD A,(FF00+C)
		c.A = c.read8(0xFF00 + uint16(c.C))
		return mc(2)

	case 0x07: // RLCA
		cval := (c.A >> 7) & 1
		c.A = (c.A << 1) | cval
		c.setZNHC(false, false, false, cval == 1)
		return mc(1)
	case 0x0F: // RRCA
		cval := c.A & 1
		c.A = (c.A >> 1) | (cval << 7)
		c.setZNHC(false, false, false, cval == 1)
		return mc(1)
	case 0x17: // RLA
		cval := (c.A >> 7) & 1
		carry := byte(0)
		if c.F&flagC != 0 {
			carry = 1
		}
		c.A = (c.A << 1) | carry
		c.setZNHC(false, false, false, cval == 1)
		return mc(1)
	case 0x1F: // RRA
		cval := c.A & 1
		carry := byte(0)
		if c.F&flagC != 0 {
			carry = 1
		}
		c.A = (c.A >> 1) | (carry << 7)
		c.setZNHC(false, false, false, cval == 1)
		return mc(1)
	case 0x27: // DAA
		a := c.A
		cf := c.F&flagC != 0
		if c.F&flagN == 0 {
			if cf || a > 0x99 {
				a += 0x60
				cf = true
			}
			if c.F&flagH != 0 || (a&0x0F) > 9 {
				a += 0x06
			}
		} else {
			if cf {
				a -= 0x60
			}
			if c.F&flagH != 0 {
				a -= 0x06
			}
		}
		c.A = a
		c.setZNHC(c.A == 0, c.F&flagN != 0, false, cf)
		return mc(1)
	case 0x2F: // CPL
		c.A = ^c.A
		c.F = (c.F & (flagZ | flagC)) | flagN | flagH
		return mc(1)
	case 0x37: // SCF
		c.F = (c.F & flagZ) | flagC
		return mc(1)
	case 0x3F: // CCF
		carry := c.F&flagC == 0
		c.F = (c.F & flagZ)
		if carry {
			c.F |= flagC
		}
		return mc(1)

	case 0x04:
		old := c.B
		c.B++
		c.setZNHC(c.B == 0, false, old&0x0F == 0x0F, c.F&flagC != 0)
		return mc(1)
	case 0x0C:
		old := c.C
		c.C++
		c.setZNHC(c.C == 0, false, old&0x0F == 0x0F, c.F&flagC != 0)
		return mc(1)
	case 0x14:
		old := c.D
		c.D++
		c.setZNHC(c.D == 0, false, old&0x0F == 0x0F, c.F&flagC != 0)
		return mc(1)
	case 0x1C:
		old := c.E
		c.E++
		c.setZNHC(c.E == 0, false, old&0x0F == 0x0F, c.F&flagC != 0)
		return mc(1)
	case 0x24:
		old := c.H
		c.H++
		c.setZNHC(c.H == 0, false, old&0x0F == 0x0F, c.F&flagC != 0)
		return mc(1)
	case 0x2C:
		old := c.L
		c.L++
		c.setZNHC(c.L == 0, false, old&0x0F == 0x0F, c.F&flagC != 0)
		return mc(1)
	case 0x3C:
		old := c.A
		c.A++
		c.setZNHC(c.A == 0, false, old&0x0F == 0x0F, c.F&flagC != 0)
		return mc(1)
	case 0x34: // INC (HL)
		addr := c.getHL()
		old := c.read8(addr)
		v := old + 1
		c.write8(addr, v)
		c.setZNHC(v == 0, false, old&0x0F == 0x0F, c.F&flagC != 0)
		return mc(3)

	case 0x05:
		old := c.B
		c.B--
		c.setZNHC(c.B == 0, true, old&0x0F == 0x00, c.F&flagC != 0)
		return mc(1)
	case 0x0D:
		old := c.C
		c.C--
		c.setZNHC(c.C == 0, true, old&0x0F == 0x00, c.F&flagC != 0)
		return mc(1)
	case 0x15:
		old := c.D
		c.D--
		c.setZNHC(c.D == 0, true, old&0x0F == 0x00, c.F&flagC != 0)
		return mc(1)
	case 0x1D:
		old := c.E
		c.E--
		c.setZNHC(c.E == 0, true, old&0x0F == 0x00, c.F&flagC != 0)
		return mc(1)
	case 0x25:
		old := c.H
		c.H--
		c.setZNHC(c.H == 0, true, old&0x0F == 0x00, c.F&flagC != 0)
		return mc(1)
	case 0x2D:
		old := c.L
		c.L--
		c.setZNHC(c.L == 0, true, old&0x0F == 0x00, c.F&flagC != 0)
		return mc(1)
	case 0x3D:
		old := c.A
		c.A--
		c.setZNHC(c.A == 0, true, old&0x0F == 0x00, c.F&flagC != 0)
		return mc(1)
	case 0x35: // DEC (HL)
		addr := c.getHL()
		old := c.read8(addr)
		v := old - 1
		c.write8(addr, v)
		c.setZNHC(v == 0, true, old&0x0F == 0x00, c.F&flagC != 0)
		return mc(3)

	case 0x80, 0x81, 0x82, 0x83, 0x84, 0x85, 0x87:
		r, z, n, h, cy := c.add8(c.A, get8(c, op&7))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(1)
	case 0x88, 0x89, 0x8A, 0x8B, 0x8C, 0x8D, 0x8F:
		r, z, n, h, cy := c.adc8(c.A, get8(c, op&7), c.F&flagC != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(1)
	case 0x90, 0x91, 0x92, 0x93, 0x94, 0x95, 0x97:
		r, z, n, h, cy := c.sub8(c.A, get8(c, op&7))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(1)
	case 0x98, 0x99, 0x9A, 0x9B, 0x9C, 0x9D, 0x9F:
		r, z, n, h, cy := c.sbc8(c.A, get8(c, op&7), c.F&flagC != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(1)
	case 0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA7:
		r, z, n, h, cy := c.and8(c.A, get8(c, op&7))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(1)
	case 0xA8, 0xA9, 0xAA, 0xAB, 0xAC, 0xAD, 0xAF:
		r, z, n, h, cy := c.xor8(c.A, get8(c, op&7))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(1)
	case 0xB0, 0xB1, 0xB2, 0xB3, 0xB4, 0xB5, 0xB7:
		r, z, n, h, cy := c.or8(c.A, get8(c, op&7))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(1)
	case 0xB8, 0xB9, 0xBA, 0xBB, 0xBC, 0xBD, 0xBF:
		z, n, h, cy := c.cp8(c.A, get8(c, op&7))
		c.setZNHC(z, n, h, cy)
		return mc(1)

	case 0x86:
		r, z, n, h, cy := c.add8(c.A, c.read8(c.getHL()))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(2)
	case 0x8E:
		r, z, n, h, cy := c.adc8(c.A, c.read8(c.getHL()), c.F&flagC != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(2)
	case 0x96:
		r, z, n, h, cy := c.sub8(c.A, c.read8(c.getHL()))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(2)
	case 0x9E:
		r, z, n, h, cy := c.sbc8(c.A, c.read8(c.getHL()), c.F&flagC != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(2)
	case 0xA6:
		r, z, n, h, cy := c.and8(c.A, c.read8(c.getHL()))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(2)
	case 0xAE:
		r, z, n, h, cy := c.xor8(c.A, c.read8(c.getHL()))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(2)
	case 0xB6:
		r, z, n, h, cy := c.or8(c.A, c.read8(c.getHL()))
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(2)
	case 0xBE:
		z, n, h, cy := c.cp8(c.A, c.read8(c.getHL()))
		c.setZNHC(z, n, h, cy)
		return mc(2)

	case 0xC6:
		r, z, n, h, cy := c.add8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(2)
	case 0xCE:
		r, z, n, h, cy := c.adc8(c.A, c.fetch8(), c.F&flagC != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(2)
	case 0xD6:
		r, z, n, h, cy := c.sub8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(2)
	case 0xDE:
		r, z, n, h, cy := c.sbc8(c.A, c.fetch8(), c.F&flagC != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(2)
	case 0xE6:
		r, z, n, h, cy := c.and8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(2)
	case 0xEE:
		r, z, n, h, cy := c.xor8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(2)
	case 0xF6:
		r, z, n, h, cy := c.or8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
		return mc(2)
	case 0xFE:
		z, n, h, cy := c.cp8(c.A, c.fetch8())
		c.setZNHC(z, n, h, cy)
		return mc(2)

	case 0xEA:
		addr := c.fetch16()
		c.write8(addr, c.A)
		return mc(4)
	case 0xFA:
		addr := c.fetch16()
		c.A = c.read8(addr)
		return mc(4)

	case 0xC3:
		c.PC = c.fetch16()
		return mc(4)
	case 0xE9:
		c.PC = c.getHL()
		return mc(1)
	case 0x18:
		off := int8(c.fetch8())
		c.PC = uint16(int32(c.PC) + int32(off))
		return mc(3)

	case 0x20:
		off := int8(c.fetch8())
		if c.F&flagZ == 0 {
			c.PC = uint16(int32(c.PC) + int32(off))
			return mc(3)
		}
		return mc(2)
	case 0x28:
		off := int8(c.fetch8())
		if c.F&flagZ != 0 {
			c.PC = uint16(int32(c.PC) + int32(off))
			return mc(3)
		}
		return mc(2)
	case 0x30:
		off := int8(c.fetch8())
		if c.F&flagC == 0 {
			c.PC = uint16(int32(c.PC) + int32(off))
			return mc(3)
		}
		return mc(2)
	case 0x38:
		off := int8(c.fetch8())
		if c.F&flagC != 0 {
			c.PC = uint16(int32(c.PC) + int32(off))
			return mc(3)
		}
		return mc(2)

	case 0xCD:
		addr := c.fetch16()
		c.push16(c.PC)
		c.PC = addr
		return mc(6)
	case 0xC9:
		c.PC = c.pop16()
		return mc(4)
	case 0xD9: // RETI
		c.PC = c.pop16()
		c.IME = true
		c.imeDispatch = 0
		c.imeCommitDue = false
		return mc(4)

	case 0xC7:
		c.push16(c.PC)
		c.PC = 0x00
		return mc(4)
	case 0xCF:
		c.push16(c.PC)
		c.PC = 0x08
		return mc(4)
	case 0xD7:
		c.push16(c.PC)
		c.PC = 0x10
		return mc(4)
	case 0xDF:
		c.push16(c.PC)
		c.PC = 0x18
		return mc(4)
	case 0xE7:
		c.push16(c.PC)
		c.PC = 0x20
		return mc(4)
	case 0xEF:
		c.push16(c.PC)
		c.PC = 0x28
		return mc(4)
	case 0xF7:
		c.push16(c.PC)
		c.PC = 0x30
		return mc(4)
	case 0xFF:
		c.push16(c.PC)
		c.PC = 0x38
		return mc(4)

	case 0xC4:
		addr := c.fetch16()
		if c.F&flagZ == 0 {
			c.push16(c.PC)
			c.PC = addr
			return mc(6)
		}
		return mc(3)
	case 0xCC:
		addr := c.fetch16()
		if c.F&flagZ != 0 {
			c.push16(c.PC)
			c.PC = addr
			return mc(6)
		}
		return mc(3)
	case 0xD4:
		addr := c.fetch16()
		if c.F&flagC == 0 {
			c.push16(c.PC)
			c.PC = addr
			return mc(6)
		}
		return mc(3)
	case 0xDC:
		addr := c.fetch16()
		if c.F&flagC != 0 {
			c.push16(c.PC)
			c.PC = addr
			return mc(6)
		}
		return mc(3)

	case 0xC0:
		if c.F&flagZ == 0 {
			c.PC = c.pop16()
			return mc(5)
		}
		return mc(2)
	case 0xC8:
		if c.F&flagZ != 0 {
			c.PC = c.pop16()
			return mc(5)
		}
		return mc(2)
	case 0xD0:
		if c.F&flagC == 0 {
			c.PC = c.pop16()
			return mc(5)
		}
		return mc(2)
	case 0xD8:
		if c.F&flagC != 0 {
			c.PC = c.pop16()
			return mc(5)
		}
		return mc(2)

	case 0xC2:
		addr := c.fetch16()
		if c.F&flagZ == 0 {
			c.PC = addr
			return mc(4)
		}
		return mc(3)
	case 0xCA:
		addr := c.fetch16()
		if c.F&flagZ != 0 {
			c.PC = addr
			return mc(4)
		}
		return mc(3)
	case 0xD2:
		addr := c.fetch16()
		if c.F&flagC == 0 {
			c.PC = addr
			return mc(4)
		}
		return mc(3)
	case 0xDA:
		addr := c.fetch16()
		if c.F&flagC != 0 {
			c.PC = addr
			return mc(4)
		}
		return mc(3)

	case 0x03:
		c.setBC(c.getBC() + 1)
		return mc(2)
	case 0x13:
		c.setDE(c.getDE() + 1)
		return mc(2)
	case 0x23:
		c.setHL(c.getHL() + 1)
		return mc(2)
	case 0x33:
		c.SP++
		return mc(2)
	case 0x0B:
		c.setBC(c.getBC() - 1)
		return mc(2)
	case 0x1B:
		c.setDE(c.getDE() - 1)
		return mc(2)
	case 0x2B:
		c.setHL(c.getHL() - 1)
		return mc(2)
	case 0x3B:
		c.SP--
		return mc(2)

	case 0x09:
		c.addHL(c.getBC())
		return mc(2)
	case 0x19:
		c.addHL(c.getDE())
		return mc(2)
	case 0x29:
		c.addHL(c.getHL())
		return mc(2)
	case 0x39:
		c.addHL(c.SP)
		return mc(2)

	case 0xF8: // LD HL,SP+e
		off := int8(c.fetch8())
		low := byte(c.SP & 0xFF)
		_, _, _, h, cy := c.add8(low, byte(off))
		c.setHL(uint16(int32(int16(c.SP)) + int32(off)))
		c.setZNHC(false, false, h, cy)
		return mc(3)
	case 0xF9:
		c.SP = c.getHL()
		return mc(2)
	case 0xE8: // ADD SP,e
		off := int8(c.fetch8())
		low := byte(c.SP & 0xFF)
		_, _, _, h, cy := c.add8(low, byte(off))
		c.SP = uint16(int32(int16(c.SP)) + int32(off))
		c.setZNHC(false, false, h, cy)
		return mc(4)

	case 0xF3: // DI
		c.CancelIME()
		return mc(1)
	case 0xFB: // EI
		c.RequestEnableIME()
		return mc(1)

	case 0x10: // STOP
		c.fetch8() // STOP is followed by a padding byte on real hardware
		c.State = Stopped
		return mc(1)

	case 0xF5:
		c.push16(c.getAF())
		return mc(4)
	case 0xC5:
		c.push16(c.getBC())
		return mc(4)
	case 0xD5:
		c.push16(c.getDE())
		return mc(4)
	case 0xE5:
		c.push16(c.getHL())
		return mc(4)
	case 0xF1:
		c.setAF(c.pop16())
		return mc(3)
	case 0xC1:
		c.setBC(c.pop16())
		return mc(3)
	case 0xD1:
		c.setDE(c.pop16())
		return mc(3)
	case 0xE1:
		c.setHL(c.pop16())
		return mc(3)

	case 0xCB:
		return c.execCB()

	default:
		panic(illegalOpcodeError(op))
	}
}

func (c *CPU) addHL(operand uint16) {
	hl := c.getHL()
	r := uint32(hl) + uint32(operand)
	h := ((hl & 0x0FFF) + (operand & 0x0FFF)) > 0x0FFF
	c.setHL(uint16(r))
	c.setZNHC(c.F&flagZ != 0, false, h, r > 0xFFFF)
}

func (c *CPU) execCB() int {
	cb := c.fetch8()
	reg := cb & 7
	group := (cb >> 6) & 3
	y := (cb >> 3) & 7

	cost := 2
	if reg == 6 {
		cost = 4
		if group == 1 { // BIT b,(HL) reads but never writes back
			cost = 3
		}
	}

	switch group {
	case 0:
		v := get8(c, reg)
		var cflag byte
		switch y {
		case 0: // RLC
			cflag = (v >> 7) & 1
			v = (v << 1) | cflag
		case 1: // RRC
			cflag = v & 1
			v = (v >> 1) | (cflag << 7)
		case 2: // RL
			cflag = (v >> 7) & 1
			cin := byte(0)
			if c.F&flagC != 0 {
				cin = 1
			}
			v = (v << 1) | cin
		case 3: // RR
			cflag = v & 1
			cin := byte(0)
			if c.F&flagC != 0 {
				cin = 1
			}
			v = (v >> 1) | (cin << 7)
		case 4: // SLA
			cflag = (v >> 7) & 1
			v <<= 1
		case 5: // SRA
			cflag = v & 1
			v = (v >> 1) | (v & 0x80)
		case 6: // SWAP
			v = (v << 4) | (v >> 4)
		case 7: // SRL
			cflag = v & 1
			v >>= 1
		}
		set8(c, reg, v)
		if y == 6 {
			c.setZNHC(v == 0, false, false, false)
		} else {
			c.setZNHC(v == 0, false, false, cflag == 1)
		}
	case 1: // BIT y,r
		v := get8(c, reg)
		bitClear := (v>>y)&1 == 0
		c.F = (c.F & flagC) | flagH
		if bitClear {
			c.F |= flagZ
		}
	case 2: // RES y,r
		v := get8(c, reg)
		set8(c, reg, v&^(1<<y))
	case 3: // SET y,r
		v := get8(c, reg)
		set8(c, reg, v|(1<<y))
	}
	return mc(cost)
}

// mc converts a published M-cycle duration into the idle-cycle
// value FetchDecodeExecute returns: M-cycles minus the fetch cycle already
// consumed.
func mc(mCycles int) int { return mCycles - 1 }

type cpuState struct {
	A, F, B, C, D, E, H, L byte
	SP, PC                 uint16
	IME                    bool
	ImeDispatch            int
	ImeCommitDue           bool
	State                  State
	ISRSub                 ISRSubState
	Idle                   int
}

// SaveState serializes the register file and dispatch-scheduling state
// (but not the bus, which the owner persists separately) via gob,
// following the pattern established by the other subsystem types.
func (c *CPU) SaveState() []byte {
	var buf bytes.Buffer
	s := cpuState{
		A: c.A, F: c.F, B: c.B, C: c.C, D: c.D, E: c.E, H: c.H, L: c.L,
		SP: c.SP, PC: c.PC,
		IME: c.IME, ImeDispatch: c.imeDispatch, ImeCommitDue: c.imeCommitDue,
		State: c.State, ISRSub: c.isrSub, Idle: c.Idle,
	}
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

// LoadState restores a blob produced by SaveState, leaving the bus wiring
// untouched.
func (c *CPU) LoadState(data []byte) {
	var s cpuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	c.A, c.F, c.B, c.C, c.D, c.E, c.H, c.L = s.A, s.F, s.B, s.C, s.D, s.E, s.H, s.L
	c.SP, c.PC = s.SP, s.PC
	c.IME, c.imeDispatch = s.IME, s.ImeDispatch
	c.imeCommitDue = s.ImeCommitDue
	c.State, c.isrSub, c.Idle = s.State, s.ISRSub, s.Idle
}

type illegalOpcodeError byte

func (e illegalOpcodeError) Error() string {
	return "cpu: illegal SM83 opcode encountered"
}
