package adapter

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/m-mizutani/deepspace/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultCameraDevice = "/dev/video0"
	maxFrameSize        = 16 << 20
)

// DefaultCameraCommand streams MJPEG frames from a V4L2 device to stdout.
// {device} is replaced with the configured device path.
var DefaultCameraCommand = []string{
	"ffmpeg", "-loglevel", "error",
	"-f", "v4l2", "-video_size", "1280x720", "-i", "{device}",
	"-f", "mjpeg", "-q:v", "2", "-",
}

// Camera gives access to the host's video capture device
type Camera interface {
	// Permission reports whether the device may be opened without asking
	Permission(ctx context.Context) (model.CameraPermission, error)
	// Open starts a live stream. The caller must Stop the returned stream.
	Open(ctx context.Context) (CameraStream, error)
}

// CameraStream is an active media stream
type CameraStream interface {
	// Frame returns the most recent video frame at the stream's native resolution
	Frame(ctx context.Context) (image.Image, error)
	// Tracks returns the number of tracks that are still running
	Tracks() int
	// Stop ends all tracks. It is safe to call more than once.
	Stop() error
}

type deviceCamera struct {
	device  string
	command []string
}

type CameraOption func(*deviceCamera)

// WithCameraCommand sets the capture command. It must write MJPEG to stdout.
func WithCameraCommand(command []string) CameraOption {
	return func(c *deviceCamera) {
		if len(command) > 0 {
			c.command = command
		}
	}
}

// NewCamera creates a Camera reading from a device node through an external
// capture command (ffmpeg by default)
func NewCamera(device string, opts ...CameraOption) Camera {
	c := &deviceCamera{
		device:  device,
		command: DefaultCameraCommand,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *deviceCamera) Permission(ctx context.Context) (model.CameraPermission, error) {
	if c.device == "" {
		// nothing to check, access is decided by the capture command
		return model.CameraPermissionPrompt, nil
	}

	if _, err := os.Stat(c.device); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", goerr.Wrap(model.ErrCameraUnavailable, "camera device not found", goerr.V("device", c.device))
		}
		return "", goerr.Wrap(err, "failed to stat camera device", goerr.V("device", c.device))
	}

	f, err := os.OpenFile(c.device, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return model.CameraPermissionDenied, nil
		}
		return "", goerr.Wrap(model.ErrCameraUnavailable, "failed to open camera device",
			goerr.V("device", c.device), goerr.V("error", err.Error()))
	}
	_ = f.Close()

	return model.CameraPermissionGranted, nil
}

func (c *deviceCamera) Open(ctx context.Context) (CameraStream, error) {
	args := make([]string, len(c.command))
	for i, arg := range c.command {
		args[i] = strings.ReplaceAll(arg, "{device}", c.device)
	}

	cmd := exec.Command(args[0], args[1:]...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create stdout pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, goerr.Wrap(model.ErrCameraUnavailable, "failed to start capture command",
			goerr.V("command", args), goerr.V("error", err.Error()))
	}

	s := newMJPEGStream(stdout, func() error {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil
	})

	if err := s.waitFirstFrame(ctx); err != nil {
		_ = s.Stop()
		return nil, goerr.Wrap(err, "camera stream did not start",
			goerr.V("command", args), goerr.V("stderr", stderr.String()))
	}

	return s, nil
}

// mjpegStream keeps the latest JPEG frame read from a concatenated MJPEG stream
type mjpegStream struct {
	mu     sync.Mutex
	frame  []byte
	err    error
	active bool

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	stopOnce  sync.Once
	stopFn    func() error
}

func newMJPEGStream(r io.Reader, stopFn func() error) *mjpegStream {
	s := &mjpegStream{
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		stopFn: stopFn,
		active: true,
	}
	go s.read(r)
	return s
}

func (s *mjpegStream) read(r io.Reader) {
	defer close(s.done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), maxFrameSize)
	scanner.Split(splitJPEG)

	for scanner.Scan() {
		frame := make([]byte, len(scanner.Bytes()))
		copy(frame, scanner.Bytes())

		s.mu.Lock()
		s.frame = frame
		s.mu.Unlock()
		s.readyOnce.Do(func() { close(s.ready) })
	}

	s.mu.Lock()
	if err := scanner.Err(); err != nil {
		s.err = goerr.Wrap(err, "failed to read camera stream")
	} else {
		s.err = goerr.Wrap(model.ErrCameraUnavailable, "camera stream ended")
	}
	s.mu.Unlock()
}

func (s *mjpegStream) waitFirstFrame(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		select {
		case <-s.ready:
			return nil
		default:
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.err
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "waiting for first camera frame")
	}
}

func (s *mjpegStream) Frame(ctx context.Context) (image.Image, error) {
	if err := s.waitFirstFrame(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	frame := s.frame
	s.mu.Unlock()

	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode camera frame", goerr.V("size", len(frame)))
	}
	return img, nil
}

func (s *mjpegStream) Tracks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return 1
	}
	return 0
}

func (s *mjpegStream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		err = s.stopFn()
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	})
	return err
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// splitJPEG is a bufio.SplitFunc yielding one JPEG image per token. Bytes
// between images are discarded.
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		if len(data) <= 1 {
			return 0, nil, nil
		}
		// the last byte may be the first half of a marker
		return len(data) - 1, nil, nil
	}

	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}

	stop := start + len(jpegSOI) + end + len(jpegEOI)
	return stop, data[start:stop], nil
}
