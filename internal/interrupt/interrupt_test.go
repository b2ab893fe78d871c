package interrupt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestController_PriorityOrder(t *testing.T) {
	c := New()
	c.SetIE(0xFF)
	c.Request(Timer)
	c.Request(VBlank)
	c.Request(Joypad)

	src, ok := c.Highest()
	require.True(t, ok)
	require.Equal(t, VBlank, src, "VBlank (bit 0) must win over Timer/Joypad")
}

func TestController_DisabledSourceNotPending(t *testing.T) {
	c := New()
	c.SetIE(byte(1 << LCDStat))
	c.Request(VBlank)

	require.False(t, c.Pending(), "VBlank requested but not enabled in IE")
}

func TestController_CancelClearsBit(t *testing.T) {
	c := New()
	c.SetIE(0xFF)
	c.Request(Serial)
	require.True(t, c.Pending())

	c.CancelByIndex(int(Serial))
	require.False(t, c.Pending())
}

func TestController_IFReadBackHasUpperBitsSet(t *testing.T) {
	c := New()
	c.SetIF(0x3F)
	require.Equal(t, byte(0xE0|0x1F), c.IF())
}

func TestController_SaveLoadRoundTrip(t *testing.T) {
	c := New()
	c.SetIE(0x1A)
	c.Request(Timer)

	blob := c.SaveState()

	other := New()
	other.LoadState(blob)
	require.Equal(t, c.IE(), other.IE())
	require.Equal(t, c.IF(), other.IF())
}
