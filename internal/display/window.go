// Package display shows the composed camera view in a local X11 window.
package display

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/frogdesign/akart/internal/logger"
	"github.com/frogdesign/akart/internal/output"
)

// Window is an output drawing frames into an X11 window
type Window struct {
	conn    *xgb.Conn
	screen  *xproto.ScreenInfo
	window  xproto.Window
	gc      xproto.Gcontext // Persistent graphics context
	format  pixelFormat
	scaler  *output.Scaler
	title   string
	width   int
	height  int
	inhibit *Inhibitor
	running bool
	mu      sync.Mutex
}

// NewWindow connects to the X server named by $DISPLAY
func NewWindow(cfg output.Config, title string) (*Window, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid window size %dx%d", cfg.Width, cfg.Height)
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	format, err := formatFor(setup, screen.RootDepth)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Window{
		conn:   conn,
		screen: screen,
		format: format,
		scaler: output.NewScaler(cfg.Width, cfg.Height),
		title:  title,
		width:  cfg.Width,
		height: cfg.Height,
	}, nil
}

// Start creates and maps the window
func (w *Window) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("display already running")
	}

	windowID, err := xproto.NewWindowId(w.conn)
	if err != nil {
		return fmt.Errorf("failed to create window ID: %w", err)
	}
	w.window = windowID

	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x000000, // Black background
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify,
	}

	err = xproto.CreateWindowChecked(
		w.conn,
		w.screen.RootDepth,
		w.window,
		w.screen.Root,
		0, 0,
		uint16(w.width), uint16(w.height),
		0,
		xproto.WindowClassInputOutput,
		w.screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	log := logger.WithComponent("display")
	if err := w.setWindowTitle(w.title); err != nil {
		log.Warn().Err(err).Msg("Failed to set window title")
	}
	if err := w.setWindowClass("akart", "AKart"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window class")
	}

	if err := xproto.MapWindowChecked(w.conn, w.window).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(w.conn)
	if err != nil {
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	w.gc = gc
	err = xproto.CreateGCChecked(w.conn, w.gc, xproto.Drawable(w.window), 0, nil).Check()
	if err != nil {
		return fmt.Errorf("failed to create GC: %w", err)
	}
	w.conn.Sync()

	if inh, err := Inhibit("akart", "Driving"); err != nil {
		log.Warn().Err(err).Msg("Screen saver stays enabled")
	} else {
		w.inhibit = inh
	}

	w.running = true
	log.Info().
		Int("width", w.width).
		Int("height", w.height).
		Uint32("window_id", uint32(w.window)).
		Msg("Preview window created")
	return nil
}

// Stop destroys the window and closes the connection
func (w *Window) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false

	if w.inhibit != nil {
		if err := w.inhibit.Release(); err != nil {
			logger.WithComponent("display").Warn().Err(err).Msg("Failed to release screen saver")
		}
		w.inhibit = nil
	}
	if w.gc != 0 {
		xproto.FreeGC(w.conn, w.gc)
	}
	if w.window != 0 {
		xproto.DestroyWindow(w.conn, w.window)
		w.conn.Sync()
	}
	w.conn.Close()

	logger.WithComponent("display").Info().Msg("Preview window closed")
	return nil
}

// Name returns the output type name
func (w *Window) Name() string {
	return "X11 preview"
}

// IsRunning returns whether the window is shown
func (w *Window) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// WriteFrame scales frame to the window size and draws it
func (w *Window) WriteFrame(frame *image.RGBA) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return fmt.Errorf("display not running")
	}
	return w.putImage(w.scaler.Fit(frame))
}

// putImage sends img to the server in horizontal strips that fit the
// maximum request length.
func (w *Window) putImage(img *image.RGBA) error {
	data, stride, err := w.format.pack(img)
	if err != nil {
		return err
	}

	height := img.Bounds().Dy()
	rows := w.format.rowsPerRequest(stride, xproto.Setup(w.conn).MaximumRequestLength)
	for y := 0; y < height; y += rows {
		n := rows
		if y+n > height {
			n = height - y
		}
		err := xproto.PutImageChecked(
			w.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(w.window),
			w.gc,
			uint16(img.Bounds().Dx()),
			uint16(n),
			0, int16(y),
			0,
			w.screen.RootDepth,
			data[y*stride:(y+n)*stride],
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}
	return nil
}

func (w *Window) setWindowTitle(title string) error {
	titleAtom, err := w.getAtom("_NET_WM_NAME")
	if err != nil {
		return err
	}
	utf8Atom, err := w.getAtom("UTF8_STRING")
	if err != nil {
		return err
	}
	return xproto.ChangePropertyChecked(
		w.conn,
		xproto.PropModeReplace,
		w.window,
		titleAtom,
		utf8Atom,
		8,
		uint32(len(title)),
		[]byte(title),
	).Check()
}

func (w *Window) setWindowClass(instance, class string) error {
	classAtom, err := w.getAtom("WM_CLASS")
	if err != nil {
		return err
	}

	// WM_CLASS format: instance\0class\0
	classStr := instance + "\x00" + class + "\x00"
	return xproto.ChangePropertyChecked(
		w.conn,
		xproto.PropModeReplace,
		w.window,
		classAtom,
		xproto.AtomString,
		8,
		uint32(len(classStr)),
		[]byte(classStr),
	).Check()
}

func (w *Window) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(w.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}
