package joypad

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// The DMG wires the two select lines crosswise to the two key banks:
// P15 (selectButtons) gates keys_dulr and P14 (selectDpad) gates keys_ssba.
// These tests exercise that crosswise pairing directly rather than the
// intuitively-named one.

func TestJoypad_SelectDpadLineExposesSSBAKeys(t *testing.T) {
	j := New(func() {})
	j.SetSelect(0x20) // P14 low (selectDpad), P15 high -> ssba bank exposed
	j.Press(A)
	j.Press(Start)

	got := j.Read()
	require.Equal(t, byte(0xC0|0x20|0x06), got) // bits 0 (A) and 3 (Start) clear
}

func TestJoypad_SelectButtonsLineExposesDULRKeys(t *testing.T) {
	j := New(func() {})
	j.SetSelect(0x10) // P15 low (selectButtons), P14 high -> dulr bank exposed
	j.Press(Right)

	got := j.Read()
	require.Equal(t, byte(0xC0|0x10|0x0E), got) // bit 0 (Right) clear
}

func TestJoypad_NeitherGroupSelectedReadsAllOnes(t *testing.T) {
	j := New(func() {})
	j.SetSelect(0x30)
	j.Press(A)
	j.Press(Up)

	require.Equal(t, byte(0xFF), j.Read())
}

func TestJoypad_FallingEdgeRequestsInterrupt(t *testing.T) {
	fired := 0
	j := New(func() { fired++ })
	j.SetSelect(0x00) // both select lines low -> both banks exposed
	require.Equal(t, 0, fired)

	j.Press(Up) // 1->0 transition on the composed nibble
	require.Equal(t, 1, fired)

	j.Press(Down) // already low elsewhere, still a fresh bit going low
	require.Equal(t, 2, fired)

	j.Unpress(Up) // release never re-fires (only falling edges do)
	require.Equal(t, 2, fired)
}
