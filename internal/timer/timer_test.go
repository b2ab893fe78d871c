package timer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTimer_FallingEdgeIncrementsTIMA(t *testing.T) {
	fired := 0
	tm := New(func() { fired++ })
	tm.SetTAC(0x05) // enabled, tap bit 3 (262144 Hz)

	// Bit 3 of div16 rises after 8 dot-clocks and falls after 16.
	for i := 0; i < 16; i++ {
		tm.Tick()
	}
	require.Equal(t, byte(1), tm.TIMA())
	require.Equal(t, 0, fired)
}

func TestTimer_OverflowReloadsAfterFourDots(t *testing.T) {
	fired := 0
	tm := New(func() { fired++ })
	tm.SetTAC(0x05)
	tm.SetTMA(0xAB)
	tm.SetTIMA(0xFF)

	// Drive 16 dot-clocks to trigger the falling edge that overflows TIMA.
	for i := 0; i < 16; i++ {
		tm.Tick()
	}
	require.Equal(t, byte(0x00), tm.TIMA(), "TIMA goes to 0 immediately on overflow")
	require.Equal(t, 0, fired)

	for i := 0; i < 3; i++ {
		tm.Tick()
	}
	require.Equal(t, byte(0x00), tm.TIMA())

	tm.Tick() // fourth dot clock: reload fires
	require.Equal(t, byte(0xAB), tm.TIMA())
	require.Equal(t, 1, fired)
}

func TestTimer_WriteDuringReloadWindowCancels(t *testing.T) {
	fired := 0
	tm := New(func() { fired++ })
	tm.SetTAC(0x05)
	tm.SetTMA(0xAB)
	tm.SetTIMA(0xFF)
	for i := 0; i < 16; i++ {
		tm.Tick()
	}
	require.True(t, tm.reloadDelay > 0)

	tm.SetTIMA(0x10)
	for i := 0; i < 8; i++ {
		tm.Tick()
	}
	require.Equal(t, byte(0x10), tm.TIMA(), "cancelled reload must not overwrite the written value")
	require.Equal(t, 0, fired)
}

func TestTimer_DisabledTACNeverTicks(t *testing.T) {
	tm := New(func() {})
	tm.SetTAC(0x01) // tap selected but enable bit clear
	for i := 0; i < 2000; i++ {
		tm.Tick()
	}
	require.Equal(t, byte(0), tm.TIMA())
}

func TestTimer_DivResetCanSynthesizeFallingEdge(t *testing.T) {
	fired := 0
	tm := New(func() { fired++ })
	tm.SetTAC(0x05) // tap bit 3
	for i := 0; i < 4; i++ {
		tm.Tick() // div16 == 4, bit3 not yet set
	}
	for i := 0; i < 4; i++ {
		tm.Tick() // div16 == 8, bit3 set (rising edge, no tick)
	}
	require.Equal(t, byte(0), tm.TIMA())

	tm.ResetDiv() // bit3 1->0: falling edge
	require.Equal(t, byte(1), tm.TIMA())
}
