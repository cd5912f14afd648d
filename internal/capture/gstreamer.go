package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/frogdesign/akart/internal/logger"
)

const gstLaunch = "gst-launch-1.0"

// GStreamerSource runs a gst-launch-1.0 pipeline as a subprocess and splits
// its MJPEG stdout into frames. Running GStreamer out of process keeps cgo
// out of the binary.
type GStreamerSource struct {
	pipeline string
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	stderr   io.ReadCloser
	mu       sync.Mutex
	running  bool
	done     chan struct{}
	frames   uint64
	onEnd    func(error)
}

// NewGStreamerSource creates a source for pipeline, the gst-launch elements
// up to and including a JPEG encoder
func NewGStreamerSource(pipeline string) *GStreamerSource {
	return &GStreamerSource{pipeline: pipeline}
}

// Name returns the source name
func (g *GStreamerSource) Name() string {
	return "gstreamer"
}

// IsAvailable reports whether gst-launch-1.0 is on the PATH
func (g *GStreamerSource) IsAvailable() bool {
	_, err := exec.LookPath(gstLaunch)
	return err == nil
}

// OnEnd registers the callback for gst-launch exiting by itself
func (g *GStreamerSource) OnEnd(fn func(err error)) {
	g.mu.Lock()
	g.onEnd = fn
	g.mu.Unlock()
}

// CommandLine returns the shell command the source runs
func (g *GStreamerSource) CommandLine() string {
	return gstLaunch + " -q " + g.pipeline + " ! fdsink fd=1 sync=false"
}

// Start launches the subprocess
func (g *GStreamerSource) Start(ctx context.Context, fn FrameFunc) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return fmt.Errorf("pipeline already running")
	}
	if strings.TrimSpace(g.pipeline) == "" {
		return fmt.Errorf("empty gstreamer pipeline")
	}

	log := logger.WithComponent("gstreamer")
	log.Debug().Str("pipeline", g.pipeline).Msg("Starting GStreamer subprocess")

	// sh -c parses the pipeline string with its ! separators
	g.cmd = exec.CommandContext(ctx, "sh", "-c", g.CommandLine())

	stdout, err := g.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	g.stdout = stdout

	stderr, err := g.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	g.stderr = stderr

	if err := g.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start gst-launch: %w", err)
	}

	g.running = true
	g.frames = 0
	g.done = make(chan struct{})

	go g.readFrames(ctx, fn)
	go g.logStderr()

	log.Info().Int("pid", g.cmd.Process.Pid).Msg("GStreamer subprocess started")
	return nil
}

// readFrames hands every complete JPEG on stdout to fn. When the stream ends
// without Stop or ctx asking for it, the end callback is told.
func (g *GStreamerSource) readFrames(ctx context.Context, fn FrameFunc) {
	log := logger.WithComponent("gstreamer")

	var endErr error
	splitter := NewSplitter(g.stdout)
	for {
		frame, err := splitter.Next()
		if err != nil {
			if errors.Is(err, ErrFrameTooLarge) {
				log.Warn().Msg("Oversized frame, resynchronizing")
				continue
			}
			endErr = err
			break
		}

		g.mu.Lock()
		g.frames++
		g.mu.Unlock()
		fn(frame)
	}

	g.mu.Lock()
	requested := !g.running || ctx.Err() != nil
	onEnd := g.onEnd
	frames := g.frames
	g.mu.Unlock()
	close(g.done)

	if requested {
		log.Debug().Err(endErr).Msg("Frame reader stopping")
		return
	}
	if errors.Is(endErr, io.EOF) {
		endErr = fmt.Errorf("gst-launch exited: %w", endErr)
	}
	log.Warn().Err(endErr).Uint64("frames", frames).Msg("GStreamer pipeline ended unexpectedly")
	if onEnd != nil {
		onEnd(endErr)
	}
}

// logStderr logs any errors from the GStreamer subprocess
func (g *GStreamerSource) logStderr() {
	log := logger.WithComponent("gstreamer")
	scanner := bufio.NewScanner(g.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			log.Warn().Str("gst", line).Msg("GStreamer message")
		} else {
			log.Debug().Str("gst", line).Msg("GStreamer output")
		}
	}
}

// Stop kills the subprocess and waits for the reader to finish
func (g *GStreamerSource) Stop() error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false
	cmd, done := g.cmd, g.done
	frames := g.frames
	g.mu.Unlock()

	log := logger.WithComponent("gstreamer")
	if cmd.Process != nil {
		log.Debug().Int("pid", cmd.Process.Pid).Msg("Killing GStreamer subprocess")
		cmd.Process.Kill()
	}
	<-done
	cmd.Wait()

	log.Info().Uint64("frames", frames).Msg("GStreamer subprocess stopped")
	return nil
}

// IsRunning returns whether the subprocess is running
func (g *GStreamerSource) IsRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}
