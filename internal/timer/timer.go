// Package timer implements the DMG hardware timer: the 16-bit internal
// divider, DIV/TIMA/TMA/TAC, and the falling-edge-driven TIMA increment with
// its four-dot-clock overflow reload window.
package timer

import (
	"bytes"
	"encoding/gob"
)

// tapBit maps TAC's low two bits to the divider bit that gates TIMA.
var tapBit = [4]uint{9, 3, 5, 7}

// Requester raises an interrupt when TIMA's delayed reload completes.
type Requester func()

// Timer owns div16/TIMA/TMA/TAC and advances one dot clock at a time; the
// owning aggregate calls Tick four times per M-cycle.
type Timer struct {
	div16 uint16
	tima  byte
	tma   byte
	tac   byte

	// reloadDelay counts down the four dot clocks between a TIMA overflow
	// and the TMA reload + interrupt request; 0 means no reload pending.
	reloadDelay int

	req Requester
}

// New constructs a Timer wired to req, called when an overflow's delayed
// TMA reload completes (a TIMA write during the reload window cancels both).
func New(req Requester) *Timer { return &Timer{req: req} }

// DIV returns the high byte of the internal 16-bit divider (register FF04).
func (t *Timer) DIV() byte { return byte(t.div16 >> 8) }

// ResetDiv zeroes the 16-bit divider, as a write to FF04 does. Because TIMA
// increments on a falling edge of the tapped divider bit, zeroing the
// divider can itself produce a falling edge and tick TIMA.
func (t *Timer) ResetDiv() {
	old := t.input()
	t.div16 = 0
	if old && !t.input() {
		t.incrementTIMA()
	}
}

// TIMA returns register FF05.
func (t *Timer) TIMA() byte { return t.tima }

// SetTIMA writes register FF05; a write during the reload window cancels it.
func (t *Timer) SetTIMA(v byte) {
	t.tima = v
	t.reloadDelay = 0
}

// TMA returns register FF06.
func (t *Timer) TMA() byte { return t.tma }

// SetTMA writes register FF06.
func (t *Timer) SetTMA(v byte) { t.tma = v }

// TAC returns register FF07 with its unused upper bits read back as 1.
func (t *Timer) TAC() byte { return 0xF8 | (t.tac & 0x07) }

// SetTAC writes register FF07's low 3 bits; changing the tap or the enable
// bit can itself cause a falling edge, ticking TIMA immediately.
func (t *Timer) SetTAC(v byte) {
	old := t.input()
	t.tac = v & 0x07
	if old && !t.input() {
		t.incrementTIMA()
	}
}

// input is the timer's gated clock input: the tapped divider bit ANDed
// with the TAC enable bit.
func (t *Timer) input() bool {
	if t.tac&0x04 == 0 {
		return false
	}
	bit := tapBit[t.tac&0x03]
	return (t.div16>>bit)&1 != 0
}

// Tick advances the divider by one dot clock and evaluates the falling-edge
// increment and any in-flight overflow reload.
func (t *Timer) Tick() {
	old := t.input()
	t.div16++
	falling := old && !t.input()

	if t.reloadDelay > 0 {
		t.reloadDelay--
		if t.reloadDelay == 0 {
			t.tima = t.tma
			if t.req != nil {
				t.req()
			}
		}
	}

	if falling {
		t.incrementTIMA()
	}
}

func (t *Timer) incrementTIMA() {
	if t.reloadDelay > 0 {
		return
	}
	if t.tima == 0xFF {
		t.tima = 0x00
		t.reloadDelay = 4
		return
	}
	t.tima++
}

type state struct {
	Div16       uint16
	TIMA, TMA   byte
	TAC         byte
	ReloadDelay int
}

// SaveState serializes the timer's registers for a gob-encoded save state.
func (t *Timer) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(state{t.div16, t.tima, t.tma, t.tac, t.reloadDelay})
	return buf.Bytes()
}

// LoadState restores a blob produced by SaveState.
func (t *Timer) LoadState(data []byte) {
	var s state
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	t.div16, t.tima, t.tma, t.tac, t.reloadDelay = s.Div16, s.TIMA, s.TMA, s.TAC, s.ReloadDelay
}
