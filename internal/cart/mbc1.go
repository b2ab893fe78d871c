package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC1 implements the bank switching rules of the authoritative
// example: a 5-bit ROM bank register, a 2-bit register shared between the
// ROM bank's high bits and the RAM bank depending on the banking mode, and
// RAM gated by an explicit enable write.
type MBC1 struct {
	rom []byte
	ram []byte

	romBankLow5 byte // lower 5 bits of the ROM bank number; 0 remaps to 1
	bankHigh2   byte // RAM bank; also ROM bank bits 5-6 in mode 1
	ramEnabled  bool
	mode1       bool // banking_mode_1_select

	numROMBanks int
	hasBattery  bool
}

// NewMBC1 constructs an MBC1 for rom with ramSize bytes of external RAM.
func NewMBC1(rom []byte, ramSize int, hasBattery bool) *MBC1 {
	m := &MBC1{rom: rom, romBankLow5: 1, hasBattery: hasBattery}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.numROMBanks = numBanks(len(rom))
	return m
}

// romBankMask masks a candidate bank number to the cartridge's actual bank
// count, masked to num_banks-1 (a power-of-two mask).
func (m *MBC1) romBankMask(bank byte) byte {
	if m.numROMBanks <= 1 {
		return 0
	}
	return bank & byte(m.numROMBanks-1)
}

func (m *MBC1) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		bank := byte(0)
		if m.mode1 {
			bank = m.romBankMask((m.bankHigh2 & 0x03) << 5)
		}
		return romByte(m.rom, int(bank), addr)
	case addr < 0x8000:
		return romByte(m.rom, int(m.effectiveROMBank()), addr-0x4000)
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return 0xFF
		}
		return ramByte(m.ram, m.ramBank(), addr-0xA000)
	default:
		return 0xFF
	}
}

func (m *MBC1) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = value&0x0F == 0x0A
	case addr < 0x4000:
		bank := value & 0x1F
		if bank == 0 {
			bank = 1
		}
		m.romBankLow5 = bank
	case addr < 0x6000:
		m.bankHigh2 = value & 0x03
	case addr < 0x8000:
		m.mode1 = value&0x01 == 1
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return
		}
		writeRAM(m.ram, m.ramBank(), addr-0xA000, value)
	}
}

func (m *MBC1) effectiveROMBank() byte {
	bank := m.romBankLow5
	if m.mode1 {
		bank |= m.bankHigh2 << 5
	}
	return m.romBankMask(bank)
}

func (m *MBC1) ramBank() int {
	return int(m.bankHigh2 & 0x03)
}

func (m *MBC1) HasBattery() bool { return m.hasBattery }

func (m *MBC1) SaveRAM() []byte {
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC1) LoadRAM(data []byte) { copy(m.ram, data) }

type mbc1State struct {
	RomBankLow5 byte
	BankHigh2   byte
	RamEnabled  bool
	Mode1       bool
}

func (m *MBC1) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc1State{m.romBankLow5, m.bankHigh2, m.ramEnabled, m.mode1})
	return buf.Bytes()
}

func (m *MBC1) LoadState(data []byte) {
	var s mbc1State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	m.romBankLow5, m.bankHigh2, m.ramEnabled, m.mode1 = s.RomBankLow5, s.BankHigh2, s.RamEnabled, s.Mode1
}

// numBanks returns the number of 16 KiB ROM banks implied by romLen,
// rounded up to a power of two so the bank mask in romBankMask is exact.
func numBanks(romLen int) int {
	banks := romLen / 0x4000
	if banks <= 1 {
		return 1
	}
	n := 1
	for n < banks {
		n <<= 1
	}
	return n
}

func romByte(rom []byte, bank int, addr uint16) byte {
	off := bank*0x4000 + int(addr)
	if off >= 0 && off < len(rom) {
		return rom[off]
	}
	return 0xFF
}

func ramByte(ram []byte, bank int, addr uint16) byte {
	off := bank*0x2000 + int(addr)
	if off >= 0 && off < len(ram) {
		return ram[off]
	}
	return 0xFF
}

func writeRAM(ram []byte, bank int, addr uint16, value byte) {
	off := bank*0x2000 + int(addr)
	if off >= 0 && off < len(ram) {
		ram[off] = value
	}
}
