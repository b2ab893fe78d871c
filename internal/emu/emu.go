// Package emu is the single owner that wires the CPU, bus, PPU, timer,
// joypad, and cartridge together and drives them one M-cycle at a time,
// implementing the authoritative per-tick ordering of the real hardware.
package emu

import (
	"bytes"
	"context"
	"encoding/gob"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/miscv32/scgb/internal/bus"
	"github.com/miscv32/scgb/internal/cart"
	"github.com/miscv32/scgb/internal/cpu"
	"github.com/miscv32/scgb/internal/joypad"
	"github.com/miscv32/scgb/internal/ppu"
)

// mCyclesPerFrame is 70224 T-states (one DMG frame) expressed in M-cycles.
const mCyclesPerFrame = 70224 / 4

// Buttons is a snapshot of which joypad keys are currently held.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

// Machine is the owning aggregate: the host calls LoadCartridge once, then
// drives StepFrame (or Step for instruction-level tools) in a loop and
// reads Framebuffer after each call.
type Machine struct {
	cfg Config

	cpu *cpu.CPU
	bus *bus.Bus

	romPath   string
	header    *cart.Header
	pendingBoot []byte

	compatPalette int

	fb []byte // RGBA, 160*144*4
}

// New returns a Machine with no cartridge loaded; StepFrame before
// LoadCartridge just idles an empty ROM-only bus.
func New(cfg Config) *Machine {
	m := &Machine{cfg: cfg, fb: make([]byte, ppu.ScreenW*ppu.ScreenH*4)}
	m.resetBus(make([]byte, 0x8000))
	return m
}

func (m *Machine) resetBus(rom []byte) {
	m.bus = bus.New(rom)
	m.cpu = cpu.New(m.bus)
	if len(m.pendingBoot) >= 0x100 {
		m.bus.SetBootROM(m.pendingBoot)
		m.cpu.SP = 0xFFFE
		m.cpu.PC = 0x0000
		m.cpu.IME = false
	} else {
		m.cpu.SkipBootROM()
	}
}

// SetBootROM stages a DMG boot ROM image to run ahead of the next cartridge
// load. Loading before LoadCartridge mirrors the real hardware sequence;
// calling it afterwards has no effect until the next LoadCartridge/LoadROMFromFile.
func (m *Machine) SetBootROM(data []byte) {
	if len(data) >= 0x100 {
		m.pendingBoot = append([]byte(nil), data...)
	}
}

// LoadCartridge parses rom's header and wires a fresh bus and CPU around
// it. A malformed header (unrecognized ROM/RAM size code) is fatal at load
// time and is returned rather than silently falling back.
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	h, err := cart.ParseHeader(rom)
	if err != nil {
		return err
	}
	if len(boot) >= 0x100 {
		m.SetBootROM(boot)
	}
	m.header = h
	m.resetBus(rom)
	if id, ok := autoCompatPaletteFromHeader(h); ok {
		m.compatPalette = id
	}
	return nil
}

// LoadROMFromFile reads path and loads it as the active cartridge, using
// any boot ROM staged by SetBootROM.
func (m *Machine) LoadROMFromFile(path string) error {
	rom, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := m.LoadCartridge(rom, nil); err != nil {
		return err
	}
	if abs, err := filepath.Abs(path); err == nil {
		m.romPath = abs
	} else {
		m.romPath = path
	}
	return nil
}

// ROMPath returns the path LoadROMFromFile was last called with, or "".
func (m *Machine) ROMPath() string { return m.romPath }

// ROMTitle returns the cartridge header's title, or "" if none is loaded.
func (m *Machine) ROMTitle() string {
	if m.header == nil {
		return ""
	}
	return m.header.Title
}

// Header returns the last parsed cartridge header, or nil.
func (m *Machine) Header() *cart.Header { return m.header }

// CompatPaletteID returns the auto-detected DMG palette suggestion (the
// dropped-feature palette nicety, grounded on the original's title table).
func (m *Machine) CompatPaletteID() int { return m.compatPalette }

// LoadBattery restores external RAM on cartridges that declare a battery.
// It reports whether the loaded cartridge accepted the data.
func (m *Machine) LoadBattery(data []byte) bool {
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok || !bb.HasBattery() {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// SaveBattery returns the current external RAM contents for persistence,
// reporting false if the loaded cartridge has no battery.
func (m *Machine) SaveBattery() ([]byte, bool) {
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok || !bb.HasBattery() {
		return nil, false
	}
	return bb.SaveRAM(), true
}

// SetSerialWriter attaches a sink for bytes written over the serial port,
// used by test-ROM harnesses to capture pass/fail text.
func (m *Machine) SetSerialWriter(w io.Writer) { m.bus.SetSerialWriter(w) }

// SetButtons replaces the joypad's held-key state wholesale, matching the
// semantics a host polling its input library once per frame expects.
func (m *Machine) SetButtons(b Buttons) {
	press := func(k joypad.Key, down bool) {
		if down {
			m.bus.Joypad().Press(k)
		} else {
			m.bus.Joypad().Unpress(k)
		}
	}
	press(joypad.A, b.A)
	press(joypad.B, b.B)
	press(joypad.Select, b.Select)
	press(joypad.Start, b.Start)
	press(joypad.Up, b.Up)
	press(joypad.Down, b.Down)
	press(joypad.Left, b.Left)
	press(joypad.Right, b.Right)
}

// ResetPostBoot reinitializes registers to DMG post-boot defaults without
// re-parsing the cartridge, for a host's "reset" command.
func (m *Machine) ResetPostBoot() {
	m.pendingBoot = nil
	m.cpu.SkipBootROM()
}

// ResetWithBoot restarts execution from the staged boot ROM at 0x0000,
// for a host's "reset" command when a boot ROM is configured.
func (m *Machine) ResetWithBoot() {
	if len(m.pendingBoot) < 0x100 {
		m.ResetPostBoot()
		return
	}
	m.bus.SetBootROM(m.pendingBoot)
	m.cpu.SP = 0xFFFE
	m.cpu.PC = 0x0000
	m.cpu.IME = false
	m.cpu.State = cpu.Execute
	m.cpu.Idle = 0
}

// Registers is a snapshot of the visible CPU register file, used by
// diagnostic tools that trace execution (cmd/cpurunner).
type Registers struct {
	A, F, B, C, D, E, H, L byte
	SP, PC                 uint16
	IME                    bool
}

// Registers returns the current CPU register snapshot.
func (m *Machine) Registers() Registers {
	return Registers{
		A: m.cpu.A, F: m.cpu.F, B: m.cpu.B, C: m.cpu.C,
		D: m.cpu.D, E: m.cpu.E, H: m.cpu.H, L: m.cpu.L,
		SP: m.cpu.SP, PC: m.cpu.PC, IME: m.cpu.IME,
	}
}

// PeekByte reads a bus address for tracing tools; it has no side effects
// beyond what Bus.Read itself performs (e.g. clearing a serial IRQ flag
// does not happen on read, so this is safe to call from a trace logger).
func (m *Machine) PeekByte(addr uint16) byte { return m.bus.Read(addr) }

// SetPC repositions the program counter, for tools that start execution
// at an address other than the post-boot default.
func (m *Machine) SetPC(pc uint16) { m.cpu.SetPC(pc) }

// tickMCycle advances every subsystem by one M-cycle, in the order the spec
// mandates: the EI-delay latch's before-execute decrement comes first; if
// IME and a pending interrupt source are observed the CPU begins (or
// continues) the five-stage dispatch sequence and the tick ends there,
// consuming only a timer-independent ISR step and the PPU's own tick —
// notably skipping the EI after-execute commit, since no instruction
// executed this tick; otherwise the timer advances four dot-clocks, a
// HALTed CPU checks for wake-up, the CPU executes (or continues idling
// through) one instruction, the EI after-execute phase commits IME if the
// before-execute decrement armed it, and finally the PPU advances. Because
// the before/after phases straddle the dispatch-and-execute block, an EI
// executed in tick T sets IME at the end of tick T+2, and the first
// dispatch check that can see it is in tick T+3.
func (m *Machine) tickMCycle() {
	m.cpu.TickIMEBeforeExecute()

	if m.cpu.State != cpu.InterruptHandler && m.cpu.IME && m.bus.InterruptsPending() {
		m.cpu.BeginDispatch()
	}

	if m.cpu.State == cpu.InterruptHandler {
		m.cpu.StepISR(m.bus)
		m.bus.TickPPU()
		return
	}

	for i := 0; i < 4; i++ {
		m.bus.TickTimer()
	}

	ieAndIF := m.bus.Read(0xFFFF) & m.bus.Read(0xFF0F) & 0x1F
	m.cpu.CheckHaltWake(ieAndIF)

	if m.cpu.State == cpu.Execute {
		if m.cpu.Idle > 0 {
			m.cpu.Idle--
		} else {
			m.cpu.Idle = m.cpu.FetchDecodeExecute()
		}
	}

	m.cpu.TickIMEAfterExecute()

	m.bus.TickPPU()
}

// Step runs M-cycles until the CPU is back in Execute with no idle cycles
// left and returns the T-states elapsed, driving the timer and PPU alongside
// it. That is one CPU instruction, except that a Step which begins an
// interrupt dispatch returns after the five dispatch M-cycles, at the
// vector, before the handler's first instruction. Diagnostic tools (cmd/cpurunner, blargg harnesses)
// use this for instruction-granular control; StepFrame is the normal host
// entry point.
func (m *Machine) Step() int {
	mcycles := 0
	for {
		m.tickMCycle()
		mcycles++
		if m.cpu.State == cpu.Execute && m.cpu.Idle == 0 {
			break
		}
	}
	return mcycles * 4
}

// StepFrame advances the machine by one full 70224 T-state frame and
// refreshes Framebuffer from the PPU's front buffer.
func (m *Machine) StepFrame() {
	for i := 0; i < mCyclesPerFrame; i++ {
		m.tickMCycle()
	}
	m.renderFramebuffer()
}

// StepFrameNoRender advances one frame without converting the PPU's
// indexed framebuffer to RGBA, for headless test-ROM harnesses that only
// care about serial output.
func (m *Machine) StepFrameNoRender() {
	for i := 0; i < mCyclesPerFrame; i++ {
		m.tickMCycle()
	}
}

// compatPalettes holds a 4-shade display palette per compat-palette ID,
// auto-picked by autoCompatPaletteFromHeader from the cartridge title.
// Index 0 is the classic DMG green; the rest are named sets (Sepia, Blue,
// Red, Pastel) plus one more to round out the mod-6 fallback.
var compatPalettes = [6][4][3]byte{
	{{0x9B, 0xBC, 0x0F}, {0x8B, 0xAC, 0x0F}, {0x30, 0x62, 0x30}, {0x0F, 0x38, 0x0F}}, // Green
	{{0xF4, 0xE4, 0xC8}, {0xC8, 0xA4, 0x78}, {0x8C, 0x5A, 0x3C}, {0x3C, 0x28, 0x1E}}, // Sepia
	{{0xE0, 0xF0, 0xFF}, {0x90, 0xC0, 0xF0}, {0x40, 0x70, 0xC0}, {0x10, 0x20, 0x50}}, // Blue
	{{0xFF, 0xE8, 0xE0}, {0xF0, 0x90, 0x80}, {0xC0, 0x40, 0x30}, {0x50, 0x10, 0x10}}, // Red
	{{0xFF, 0xF0, 0xF5}, {0xF0, 0xC8, 0xD8}, {0xC8, 0x90, 0xB0}, {0x60, 0x40, 0x58}}, // Pastel
	{{0xF8, 0xF8, 0xF8}, {0xA8, 0xA8, 0xA8}, {0x58, 0x58, 0x58}, {0x08, 0x08, 0x08}}, // Grayscale
}

func (m *Machine) renderFramebuffer() {
	frame := m.bus.PPU().Display()
	shades := compatPalettes[m.compatPalette%len(compatPalettes)]
	for y := 0; y < ppu.ScreenH; y++ {
		for x := 0; x < ppu.ScreenW; x++ {
			shade := shades[frame[y][x]&0x03]
			i := (y*ppu.ScreenW + x) * 4
			m.fb[i+0] = shade[0]
			m.fb[i+1] = shade[1]
			m.fb[i+2] = shade[2]
			m.fb[i+3] = 0xFF
		}
	}
}

// Framebuffer returns the RGBA pixels of the last rendered frame, 160x144
// at 4 bytes per pixel, row-major.
func (m *Machine) Framebuffer() []byte { return m.fb }

// RunSpec names one ROM (and optional boot ROM) for a headless batch run.
type RunSpec struct {
	ROM  []byte
	Boot []byte
}

// RunResult is one RunFrames entry's outcome.
type RunResult struct {
	Framebuffer []byte
}

// RunFrames headlessly advances one independent Machine per RunSpec for
// frames frames each, fanning the work out across goroutines with
// errgroup so a batch test-ROM run shares one cancellation: the first
// cartridge that fails to load aborts the rest and RunFrames returns
// that error.
func RunFrames(ctx context.Context, specs []RunSpec, frames int) ([]RunResult, error) {
	results := make([]RunResult, len(specs))
	g, ctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			m := New(Config{})
			if err := m.LoadCartridge(spec.ROM, spec.Boot); err != nil {
				return err
			}
			for f := 0; f < frames; f++ {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				m.StepFrame()
			}
			results[i] = RunResult{Framebuffer: append([]byte(nil), m.Framebuffer()...)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

type machineState struct {
	CPU []byte
	Bus []byte
}

// SaveStateToFile serializes the running CPU register file and bus state
// to path via gob, following the save-state convention already used by
// the bus and cartridge mapper types.
func (m *Machine) SaveStateToFile(path string) error {
	var buf bytes.Buffer
	s := machineState{CPU: m.cpu.SaveState(), Bus: m.bus.SaveState()}
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// LoadStateFromFile restores a state blob written by SaveStateToFile.
func (m *Machine) LoadStateFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var s machineState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	m.cpu.LoadState(s.CPU)
	m.bus.LoadState(s.Bus)
	return nil
}
