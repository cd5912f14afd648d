package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"os"
	"sync"
	"time"

	"github.com/frogdesign/akart/internal/logger"
)

const (
	patternWidth  = 640
	patternHeight = 480
	defaultFPS    = 30
)

// FileSource replays one still image at a fixed rate. With no file it
// replays a generated test pattern. The image is encoded to JPEG once and
// every frame shares those bytes.
type FileSource struct {
	path string
	fps  int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	frame   []byte
	sent    uint64
}

// NewFileSource creates a source for the image at path. fps <= 0 uses 30.
func NewFileSource(path string, fps int) *FileSource {
	if fps <= 0 {
		fps = defaultFPS
	}
	return &FileSource{path: path, fps: fps}
}

// Name returns the source name
func (f *FileSource) Name() string {
	return "file"
}

// IsAvailable reports whether the image can be read. The test pattern is
// always available.
func (f *FileSource) IsAvailable() bool {
	if f.path == "" {
		return true
	}
	_, err := os.Stat(f.path)
	return err == nil
}

// Start encodes the image and begins replaying it
func (f *FileSource) Start(ctx context.Context, fn FrameFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return fmt.Errorf("file source already running")
	}

	data, err := f.load()
	if err != nil {
		return err
	}
	f.frame = data
	f.sent = 0

	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	f.running = true

	go f.loop(ctx, fn)

	logger.WithComponent("file-source").Info().
		Str("path", f.path).
		Int("fps", f.fps).
		Int("bytes", len(data)).
		Msg("File source started")
	return nil
}

func (f *FileSource) load() ([]byte, error) {
	var img image.Image
	if f.path == "" {
		img = testPattern(patternWidth, patternHeight)
	} else {
		file, err := os.Open(f.path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", f.path, err)
		}
		defer file.Close()

		img, _, err = image.Decode(file)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", f.path, err)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

func (f *FileSource) loop(ctx context.Context, fn FrameFunc) {
	defer close(f.done)

	ticker := time.NewTicker(time.Second / time.Duration(f.fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			f.sent++
			data := f.frame
			f.mu.Unlock()
			fn(data)
		}
	}
}

// Stop ends the replay
func (f *FileSource) Stop() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	cancel, done := f.cancel, f.done
	f.mu.Unlock()

	cancel()
	<-done

	logger.WithComponent("file-source").Info().Uint64("frames", f.Sent()).Msg("File source stopped")
	return nil
}

// Sent returns the number of frames delivered since Start
func (f *FileSource) Sent() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

// testPattern draws vertical colour bars over a grey ramp
func testPattern(w, h int) *image.RGBA {
	bars := []color.RGBA{
		{192, 192, 192, 255},
		{192, 192, 0, 255},
		{0, 192, 192, 255},
		{0, 192, 0, 255},
		{192, 0, 192, 255},
		{192, 0, 0, 255},
		{0, 0, 192, 255},
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if y < h*3/4 {
				img.SetRGBA(x, y, bars[x*len(bars)/w])
				continue
			}
			v := uint8(x * 255 / w)
			img.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}
