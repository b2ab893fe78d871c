package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC5 implements the wider 9-bit ROM bank / 4-bit RAM bank registers used
// by cartridges up to 8 MiB ROM / 128 KiB RAM. Unlike MBC1/MBC3, writing
// bank 0 to its low ROM-bank register is honored as-is (MBC5 is the first
// mapper that can actually address ROM bank 0 through the switchable window).
type MBC5 struct {
	rom []byte
	ram []byte

	romBank    uint16 // 9 bits
	ramBank    byte   // 0-15
	ramEnabled bool

	hasBattery bool
}

// NewMBC5 constructs an MBC5 for rom with ramSize bytes of external RAM.
func NewMBC5(rom []byte, ramSize int, hasBattery bool) *MBC5 {
	m := &MBC5{rom: rom, romBank: 1, hasBattery: hasBattery}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	return m
}

func (m *MBC5) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		return romByte(m.rom, 0, addr)
	case addr < 0x8000:
		return romByte(m.rom, int(m.romBank), addr-0x4000)
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return 0xFF
		}
		return ramByte(m.ram, int(m.ramBank&0x0F), addr-0xA000)
	default:
		return 0xFF
	}
}

func (m *MBC5) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = value&0x0F == 0x0A
	case addr < 0x3000:
		m.romBank = (m.romBank & 0x100) | uint16(value)
	case addr < 0x4000:
		if value&0x01 != 0 {
			m.romBank |= 0x100
		} else {
			m.romBank &^= 0x100
		}
	case addr < 0x6000:
		m.ramBank = value & 0x0F
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return
		}
		writeRAM(m.ram, int(m.ramBank&0x0F), addr-0xA000, value)
	}
}

func (m *MBC5) HasBattery() bool { return m.hasBattery }

func (m *MBC5) SaveRAM() []byte {
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC5) LoadRAM(data []byte) { copy(m.ram, data) }

type mbc5State struct {
	RomBank    uint16
	RamBank    byte
	RamEnabled bool
}

func (m *MBC5) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc5State{m.romBank, m.ramBank, m.ramEnabled})
	return buf.Bytes()
}

func (m *MBC5) LoadState(data []byte) {
	var s mbc5State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	m.romBank, m.ramBank, m.ramEnabled = s.RomBank, s.RamBank, s.RamEnabled
}
