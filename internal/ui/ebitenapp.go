// Package ui is the ebiten desktop shell: it blits the core's framebuffer
// each frame, maps keyboard input onto the joypad, and offers a handful of
// hotkeys for pausing, quick save-states, and screenshots. It owns no
// emulation logic; everything here is presentation.
package ui

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/miscv32/scgb/internal/emu"
)

const (
	screenW = 160
	screenH = 144
)

// App implements ebiten.Game around a *emu.Machine.
type App struct {
	cfg    Config
	m      *emu.Machine
	tex    *ebiten.Image
	paused bool

	quickSlotPath string
	toastMsg      string
	toastUntil    time.Time
}

// NewApp builds an ebiten shell around an already-loaded (or empty)
// machine and sizes the window to cfg.Scale.
func NewApp(cfg Config, m *emu.Machine) *App {
	cfg.Defaults()
	ebiten.SetWindowTitle(cfg.Title)
	ebiten.SetWindowSize(screenW*cfg.Scale, screenH*cfg.Scale)
	ebiten.SetWindowResizable(true)

	a := &App{cfg: cfg, m: m, tex: ebiten.NewImage(screenW, screenH)}
	if m != nil && m.ROMPath() != "" {
		a.quickSlotPath = m.ROMPath() + ".state0"
	}
	return a
}

// Run starts the ebiten game loop.
func (a *App) Run() error {
	return ebiten.RunGame(a)
}

// SaveSettings is a hook for callers that persist Config between runs;
// there is currently nothing stateful to flush beyond the ROM itself.
func (a *App) SaveSettings() {}

func (a *App) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyP) {
		a.paused = !a.paused
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF2) {
		a.screenshot()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF5) {
		a.quickSave()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF9) {
		a.quickLoad()
	}

	if a.m == nil || a.paused {
		return nil
	}

	a.m.SetButtons(emu.Buttons{
		A:      ebiten.IsKeyPressed(ebiten.KeyX),
		B:      ebiten.IsKeyPressed(ebiten.KeyZ),
		Start:  ebiten.IsKeyPressed(ebiten.KeyEnter),
		Select: ebiten.IsKeyPressed(ebiten.KeyShiftRight) || ebiten.IsKeyPressed(ebiten.KeyShiftLeft),
		Up:     ebiten.IsKeyPressed(ebiten.KeyArrowUp),
		Down:   ebiten.IsKeyPressed(ebiten.KeyArrowDown),
		Left:   ebiten.IsKeyPressed(ebiten.KeyArrowLeft),
		Right:  ebiten.IsKeyPressed(ebiten.KeyArrowRight),
	})
	a.m.StepFrame()
	return nil
}

func (a *App) Draw(screen *ebiten.Image) {
	if a.m == nil {
		ebitenutil.DebugPrint(screen, "no ROM loaded")
		return
	}
	a.tex.WritePixels(a.m.Framebuffer())

	w, h := screen.Bounds().Dx(), screen.Bounds().Dy()
	scale := float64(h) / screenH
	if float64(w)/screenW < scale {
		scale = float64(w) / screenW
	}
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(scale, scale)
	op.GeoM.Translate((float64(w)-screenW*scale)/2, (float64(h)-screenH*scale)/2)
	screen.DrawImage(a.tex, op)

	if a.paused {
		ebitenutil.DebugPrint(screen, "PAUSED (P to resume)")
	}
	if time.Now().Before(a.toastUntil) {
		ebitenutil.DebugPrint(screen, a.toastMsg)
	}
}

func (a *App) Layout(outsideWidth, outsideHeight int) (int, int) {
	return outsideWidth, outsideHeight
}

func (a *App) toast(msg string) {
	a.toastMsg = msg
	a.toastUntil = time.Now().Add(2 * time.Second)
}

func (a *App) screenshot() {
	if a.m == nil {
		return
	}
	dir := "screenshots"
	_ = os.MkdirAll(dir, 0755)
	name := filepath.Join(dir, fmt.Sprintf("shot-%d.png", time.Now().Unix()))
	img := &image.RGBA{
		Pix:    append([]byte(nil), a.m.Framebuffer()...),
		Stride: 4 * screenW,
		Rect:   image.Rect(0, 0, screenW, screenH),
	}
	f, err := os.Create(name)
	if err != nil {
		a.toast("screenshot failed: " + err.Error())
		return
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		a.toast("screenshot failed: " + err.Error())
		return
	}
	a.toast("saved " + name)
}

func (a *App) quickSave() {
	if a.m == nil || a.quickSlotPath == "" {
		return
	}
	if err := a.m.SaveStateToFile(a.quickSlotPath); err != nil {
		a.toast("save failed: " + err.Error())
		return
	}
	a.toast("state saved: " + filepath.Base(a.quickSlotPath))
}

func (a *App) quickLoad() {
	if a.m == nil || a.quickSlotPath == "" {
		return
	}
	if err := a.m.LoadStateFromFile(a.quickSlotPath); err != nil {
		a.toast("load failed: " + err.Error())
		return
	}
	a.toast("state loaded: " + filepath.Base(a.quickSlotPath))
}
