package ui

// Config contains window and input settings for the ebiten desktop shell.
type Config struct {
	Title   string // window title
	Scale   int    // integer upscaling factor
	ROMsDir string // ROM directory setting; App has no ROM browser and does not read it

	// PerROMCompatPalette maps ROM paths to DMG palette IDs; App neither
	// reads nor writes it.
	PerROMCompatPalette map[string]int
}

// Defaults fills missing fields with reasonable defaults.
func (c *Config) Defaults() {
	if c.Title == "" {
		c.Title = "gbemu"
	}
	if c.Scale <= 0 {
		c.Scale = 3
	}
	if c.ROMsDir == "" {
		c.ROMsDir = "roms"
	}
	if c.PerROMCompatPalette == nil {
		c.PerROMCompatPalette = make(map[string]int)
	}
}
