package emu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dmgLogo is the Nintendo logo bitmap the boot ROM checks at 0x0104-0x0133;
// ParseHeader only records whether it matched, so tests don't need it to be
// correct, but a realistic synthetic ROM carries it anyway.
var dmgLogo = [48]byte{
	0xCE, 0xED, 0x66, 0x66, 0xCC, 0x0D, 0x00, 0x0B, 0x03, 0x73, 0x00, 0x83, 0x00, 0x0C, 0x00, 0x0D,
	0x00, 0x08, 0x11, 0x1F, 0x88, 0x89, 0x00, 0x0E, 0xDC, 0xCC, 0x6E, 0xE6, 0xDD, 0xDD, 0xD9, 0x99,
	0xBB, 0xBB, 0x67, 0x63, 0x6E, 0x0E, 0xEC, 0xCC, 0xDD, 0xDC, 0x99, 0x9F, 0xBB, 0xB9, 0x33, 0x3E,
}

func buildTestROM(title string, cartType, romSizeCode, ramSizeCode byte) []byte {
	rom := make([]byte, 32*1024)
	copy(rom[0x0104:0x0134], dmgLogo[:])
	copy(rom[0x0134:0x0144], []byte(title))
	rom[0x0143] = 0x00
	rom[0x0147] = cartType
	rom[0x0148] = romSizeCode
	rom[0x0149] = ramSizeCode
	var sum byte
	for addr := 0x0134; addr <= 0x014C; addr++ {
		sum = sum - rom[addr] - 1
	}
	rom[0x014D] = sum
	return rom
}

func TestLoadCartridge_ValidHeaderBoots(t *testing.T) {
	m := New(Config{})
	err := m.LoadCartridge(buildTestROM("TESTROM", 0x00, 0x00, 0x00), nil)
	require.NoError(t, err)
	assert.Equal(t, "TESTROM", m.ROMTitle())

	cyc := m.Step() // entry point is all zero bytes: a NOP
	assert.Equal(t, 4, cyc)
	assert.EqualValues(t, 0x0101, m.Registers().PC)
}

func TestLoadCartridge_MalformedHeaderIsFatal(t *testing.T) {
	m := New(Config{})
	err := m.LoadCartridge(buildTestROM("BAD", 0x00, 0xFF, 0x00), nil)
	require.Error(t, err)
}

func TestStepFrame_ProducesFullFramebuffer(t *testing.T) {
	m := New(Config{})
	require.NoError(t, m.LoadCartridge(buildTestROM("FRAME", 0x00, 0x00, 0x00), nil))
	m.StepFrame()
	assert.Len(t, m.Framebuffer(), 160*144*4)
}

func TestRunFrames_BatchesIndependentMachines(t *testing.T) {
	specs := []RunSpec{
		{ROM: buildTestROM("ONE", 0x00, 0x00, 0x00)},
		{ROM: buildTestROM("TWO", 0x00, 0x00, 0x00)},
	}
	results, err := RunFrames(context.Background(), specs, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Len(t, r.Framebuffer, 160*144*4)
	}
}

func TestRunFrames_PropagatesMalformedHeaderError(t *testing.T) {
	specs := []RunSpec{
		{ROM: buildTestROM("GOOD", 0x00, 0x00, 0x00)},
		{ROM: buildTestROM("BAD", 0x00, 0xFF, 0x00)},
	}
	_, err := RunFrames(context.Background(), specs, 1)
	assert.Error(t, err)
}
