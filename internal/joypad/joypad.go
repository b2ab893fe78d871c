// Package joypad models the DMG JOYP register: the two 4-button groups
// multiplexed onto one nibble by the select bits, and the 1->0 transition
// that raises the Joypad interrupt.
package joypad

import (
	"bytes"
	"encoding/gob"
)

// Key identifies one of the eight buttons, using hardware's id 0..7
// mapping: A, B, Select, Start, Right, Left, Up, Down.
type Key int

const (
	A Key = iota
	B
	Select
	Start
	Right
	Left
	Up
	Down
)

// Requester raises the Joypad interrupt (IF bit 4).
type Requester func()

// Joypad tracks which keys are held and the last-written select bits.
type Joypad struct {
	// ssba holds A,B,Select,Start active-low-on-read state (bit i set means pressed).
	ssba byte
	// dulr holds Right,Left,Up,Down in the same encoding.
	dulr byte

	selectButtons bool // P15 low: button group selected
	selectDpad    bool // P14 low: d-pad group selected

	lastLow4 byte // last composed lower nibble, for edge detection

	req Requester
}

// New constructs a Joypad with no keys pressed.
func New(req Requester) *Joypad {
	return &Joypad{lastLow4: 0x0F, req: req}
}

// Press marks key as held and re-evaluates the interrupt edge.
func (j *Joypad) Press(k Key) {
	j.setMask(k, true)
	j.update()
}

// Unpress marks key as released and re-evaluates the interrupt edge.
func (j *Joypad) Unpress(k Key) {
	j.setMask(k, false)
	j.update()
}

func (j *Joypad) setMask(k Key, down bool) {
	switch k {
	case A, B, Select, Start:
		bit := byte(1) << uint(k)
		if down {
			j.ssba |= bit
		} else {
			j.ssba &^= bit
		}
	case Right, Left, Up, Down:
		bit := byte(1) << uint(k-Right)
		if down {
			j.dulr |= bit
		} else {
			j.dulr &^= bit
		}
	}
}

// SetSelect writes JOYP bits 4-5 (the select nibble) from a bus write.
func (j *Joypad) SetSelect(v byte) {
	j.selectDpad = v&0x10 == 0
	j.selectButtons = v&0x20 == 0
	j.update()
}

// Read composes the JOYP register for a bus read: bits 7-6 always 1, bits
// 5-4 the select bits last written, bits 3-0 from the currently selected
// group(s), active-low.
func (j *Joypad) Read() byte {
	sel := byte(0)
	if !j.selectDpad {
		sel |= 0x10
	}
	if !j.selectButtons {
		sel |= 0x20
	}
	return 0xC0 | sel | (0x0F &^ j.low4())
}

// low4 computes the active-high lower nibble for the selected group(s)
// before inversion: bit set means the corresponding button is pressed.
// Hardware pairs the select lines crosswise with the key banks — P15
// (selectButtons) gates keys_dulr and P14 (selectDpad) gates keys_ssba —
// not the intuitively-named pairing.
func (j *Joypad) low4() byte {
	var lo byte
	if j.selectButtons {
		lo |= j.dulr
	}
	if j.selectDpad {
		lo |= j.ssba
	}
	return lo & 0x0F
}

// update recomputes the composed (active-low) lower nibble and requests the
// Joypad interrupt on any 1->0 transition.
func (j *Joypad) update() {
	newLow4 := 0x0F &^ j.low4()
	falling := j.lastLow4 &^ newLow4
	if falling != 0 && j.req != nil {
		j.req()
	}
	j.lastLow4 = newLow4
}

type state struct {
	SSBA, DULR           byte
	SelButtons, SelDpad  bool
	LastLow4             byte
}

// SaveState serializes the joypad's held-key and select state.
func (j *Joypad) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(state{j.ssba, j.dulr, j.selectButtons, j.selectDpad, j.lastLow4})
	return buf.Bytes()
}

// LoadState restores a blob produced by SaveState.
func (j *Joypad) LoadState(data []byte) {
	var s state
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	j.ssba, j.dulr, j.selectButtons, j.selectDpad, j.lastLow4 = s.SSBA, s.DULR, s.SelButtons, s.SelDpad, s.LastLow4
}
