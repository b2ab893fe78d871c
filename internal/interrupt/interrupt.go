// Package interrupt implements the DMG interrupt controller: the IE/IF
// register pair and the bit-priority rule used to pick which source a
// pending dispatch services.
package interrupt

import (
	"bytes"
	"encoding/gob"
)

// Source identifies one of the five interrupt lines, ordered by priority
// (lowest bit wins when more than one is pending).
type Source int

const (
	VBlank Source = iota
	LCDStat
	Timer
	Serial
	Joypad
)

// Vector is the fixed jump target for each source, indexed by Source.
var Vector = [5]uint16{0x40, 0x48, 0x50, 0x58, 0x60}

// Controller holds IE (0xFFFF) and IF (0xFF0F). Both are byte-wide; only
// the low 5 bits of IF are meaningful, the rest read back as 1.
type Controller struct {
	ie byte
	f  byte
}

// New returns a Controller with IE and IF cleared, matching post-init() state.
func New() *Controller { return &Controller{} }

// Request sets the IF bit for src.
func (c *Controller) Request(src Source) { c.f |= 1 << uint(src) }

// CancelByIndex clears IF bit i (0..4).
func (c *Controller) CancelByIndex(i int) { c.f &^= 1 << uint(i) }

// IE returns the raw IE register.
func (c *Controller) IE() byte { return c.ie }

// SetIE writes the full IE register (low 5 bits significant on DMG).
func (c *Controller) SetIE(v byte) { c.ie = v }

// IF returns IF with the unused upper 3 bits read back as 1, matching bus
// read semantics for 0xFF0F.
func (c *Controller) IF() byte { return 0xE0 | (c.f & 0x1F) }

// SetIF writes the low 5 bits of IF.
func (c *Controller) SetIF(v byte) { c.f = v & 0x1F }

// Pending reports whether any enabled interrupt is currently requested.
func (c *Controller) Pending() bool { return (c.ie & c.f & 0x1F) != 0 }

// Highest returns the highest-priority pending-and-enabled source and true,
// or (0, false) if none remain.
func (c *Controller) Highest() (Source, bool) {
	pending := c.ie & c.f & 0x1F
	if pending == 0 {
		return 0, false
	}
	for bit := uint(0); bit < 5; bit++ {
		if pending&(1<<bit) != 0 {
			return Source(bit), true
		}
	}
	return 0, false
}

type state struct {
	IE byte
	F  byte
}

// SaveState serializes IE/IF for a gob-encoded save state blob.
func (c *Controller) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(state{IE: c.ie, F: c.f})
	return buf.Bytes()
}

// LoadState restores IE/IF from a blob produced by SaveState.
func (c *Controller) LoadState(data []byte) {
	var s state
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	c.ie, c.f = s.IE, s.F
}
