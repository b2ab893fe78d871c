package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC3 implements ROM/RAM banking with a 7-bit ROM bank register and a
// 2-bit RAM bank register. The real mapper can also select RTC registers
// via 0x08-0x0C on the RAM-bank-select write; the RTC itself is out of
// scope (real-time-clock MBCs are out of scope), so those selector
// values are accepted but behave as RAM bank 0.
type MBC3 struct {
	rom []byte
	ram []byte

	ramEnabled bool
	romBank    byte // 7 bits, 0 remaps to 1
	ramBank    byte // 0-3

	hasBattery bool
}

// NewMBC3 constructs an MBC3 for rom with ramSize bytes of external RAM.
func NewMBC3(rom []byte, ramSize int, hasBattery bool) *MBC3 {
	m := &MBC3{rom: rom, romBank: 1, hasBattery: hasBattery}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	return m
}

func (m *MBC3) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		return romByte(m.rom, 0, addr)
	case addr < 0x8000:
		return romByte(m.rom, int(m.romBank), addr-0x4000)
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return 0xFF
		}
		return ramByte(m.ram, int(m.ramBank), addr-0xA000)
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = value&0x0F == 0x0A
	case addr < 0x4000:
		v := value & 0x7F
		if v == 0 {
			v = 1
		}
		m.romBank = v
	case addr < 0x6000:
		if value <= 0x03 {
			m.ramBank = value
		} else {
			m.ramBank = 0
		}
	case addr < 0x8000:
		// RTC latch: no-op without RTC support.
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return
		}
		writeRAM(m.ram, int(m.ramBank), addr-0xA000, value)
	}
}

func (m *MBC3) HasBattery() bool { return m.hasBattery }

func (m *MBC3) SaveRAM() []byte {
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC3) LoadRAM(data []byte) { copy(m.ram, data) }

type mbc3State struct {
	RamEnabled bool
	RomBank    byte
	RamBank    byte
}

func (m *MBC3) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc3State{m.ramEnabled, m.romBank, m.ramBank})
	return buf.Bytes()
}

func (m *MBC3) LoadState(data []byte) {
	var s mbc3State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	m.ramEnabled, m.romBank, m.ramBank = s.RamEnabled, s.RomBank, s.RamBank
}
