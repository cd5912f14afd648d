package capture

import (
	"bufio"
	"errors"
	"io"
)

// maxFrameSize bounds a single JPEG. Anything larger is treated as garbage
// and the splitter resynchronizes on the next start-of-image marker.
const maxFrameSize = 8 << 20

const (
	markerPrefix = 0xFF
	markerSOI    = 0xD8
	markerEOI    = 0xD9
)

// ErrFrameTooLarge is returned when a frame exceeds maxFrameSize
var ErrFrameTooLarge = errors.New("capture: frame too large")

// Splitter cuts a concatenated MJPEG byte stream into single JPEG frames on
// the SOI/EOI markers. Those byte pairs cannot occur inside entropy-coded
// data, where 0xFF is always stuffed.
type Splitter struct {
	r   *bufio.Reader
	max int
}

// NewSplitter reads frames from r
func NewSplitter(r io.Reader) *Splitter {
	return &Splitter{r: bufio.NewReaderSize(r, 64<<10), max: maxFrameSize}
}

// Next returns the next complete frame. A frame cut short by a new SOI is
// discarded. At the end of the stream it returns io.EOF; a trailing partial
// frame is dropped.
func (s *Splitter) Next() ([]byte, error) {
	if err := s.seekSOI(); err != nil {
		return nil, err
	}

	frame := make([]byte, 2, 64<<10)
	frame[0], frame[1] = markerPrefix, markerSOI
	prev := byte(0)

	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return nil, eof(err)
		}
		frame = append(frame, b)

		if prev == markerPrefix {
			switch b {
			case markerEOI:
				return frame, nil
			case markerSOI:
				frame = frame[:2]
				b = 0
			}
		}
		prev = b

		if len(frame) > s.max {
			return nil, ErrFrameTooLarge
		}
	}
}

func (s *Splitter) seekSOI() error {
	prev := byte(0)
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return eof(err)
		}
		if prev == markerPrefix && b == markerSOI {
			return nil
		}
		prev = b
	}
}

func eof(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}
