// Package cart decodes DMG cartridge headers and implements the bank
// switching behavior of the ROM-only, MBC1, MBC3, and MBC5 mappers.
package cart

// Cartridge is the minimal interface the bus needs for ROM/RAM banking.
// Implementations are ROM-only or one of the MBC variants. Addresses are
// CPU addresses (0x0000-0x7FFF for ROM/control, 0xA000-0xBFFF for RAM).
type Cartridge interface {
	// Read returns a byte for ROM (0x0000-0x7FFF) and external RAM (0xA000-0xBFFF).
	Read(addr uint16) byte
	// Write handles MBC control writes (0x0000-0x7FFF) and external RAM writes (0xA000-0xBFFF).
	Write(addr uint16, value byte)
	// SaveState/LoadState serialize banking registers (not ROM/RAM
	// contents) for the owning GameBoy's save-state support.
	SaveState() []byte
	LoadState(data []byte)
}

// BatteryBacked is implemented by the MBC cartridge types; HasBattery
// reports whether the header declared a battery. Callers persist SaveRAM()'s output to a .sav file and restore
// it with LoadRAM before running the cartridge again.
type BatteryBacked interface {
	HasBattery() bool
	SaveRAM() []byte
	LoadRAM(data []byte)
}

// New picks a Cartridge implementation from the parsed header's cartridge
// type byte. Unknown types fall back to ROM-only so homebrew and test ROMs
// with nonstandard header bytes still run rather than failing to load.
func New(rom []byte) Cartridge {
	h, err := ParseHeader(rom)
	if err != nil {
		return NewROMOnly(rom)
	}
	switch h.CartType {
	case 0x00, 0x08, 0x09:
		return NewROMOnly(rom)
	case 0x01, 0x02, 0x03: // MBC1, MBC1+RAM, MBC1+RAM+BATTERY
		return NewMBC1(rom, h.RAMSizeBytes, h.CartType == 0x03)
	case 0x0F, 0x10, 0x11, 0x12, 0x13: // MBC3(+TIMER)(+RAM)(+BATTERY)
		hasBattery := h.CartType == 0x0F || h.CartType == 0x10 || h.CartType == 0x13
		return NewMBC3(rom, h.RAMSizeBytes, hasBattery)
	case 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E: // MBC5 variants
		return NewMBC5(rom, h.RAMSizeBytes, h.CartType == 0x1B || h.CartType == 0x1E)
	default:
		return NewROMOnly(rom)
	}
}
