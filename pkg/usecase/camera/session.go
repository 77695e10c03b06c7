package camera

import (
	"context"
	"sync"

	"github.com/m-mizutani/deepspace/pkg/adapter"
	"github.com/m-mizutani/deepspace/pkg/model"
	"github.com/m-mizutani/deepspace/pkg/usecase/acquire"
	"github.com/m-mizutani/deepspace/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Session is the camera capture modal. It owns at most one stream and
// every transition to Closed releases it.
type Session struct {
	mu     sync.Mutex
	camera adapter.Camera
	state  model.CameraState
	stream adapter.CameraStream
	err    error
}

func New(camera adapter.Camera) *Session {
	return &Session{
		camera: camera,
		state:  model.CameraClosed,
	}
}

// State returns the current modal state
func (s *Session) State() model.CameraState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error shown in the PermissionError state
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ActiveTracks returns the number of running tracks of the held stream
func (s *Session) ActiveTracks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return 0
	}
	return s.stream.Tracks()
}

// Open requests camera access. On failure the session moves to
// PermissionError and the returned error is the one to display.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != model.CameraClosed {
		return goerr.Wrap(model.ErrInvalidState, "camera is already open", goerr.V("state", s.state))
	}
	return s.request(ctx)
}

// Retry requests camera access again after a permission error
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != model.CameraPermissionError {
		return goerr.Wrap(model.ErrInvalidState, "retry is only possible after an error", goerr.V("state", s.state))
	}
	return s.request(ctx)
}

func (s *Session) request(ctx context.Context) error {
	logger := logging.From(ctx)
	s.state = model.CameraRequesting
	s.err = nil

	perm, err := s.camera.Permission(ctx)
	if err != nil {
		logger.Warn("camera permission query failed", "error", err)
		return s.fail(goerr.Wrap(err, "camera permission is required"))
	}
	if perm == model.CameraPermissionDenied {
		return s.fail(goerr.Wrap(model.ErrPermissionDenied, "please enable camera access in your system settings"))
	}

	stream, err := s.camera.Open(ctx)
	if err != nil {
		logger.Warn("camera access error", "error", err)
		return s.fail(goerr.Wrap(err, "unable to access camera, please check permissions"))
	}

	s.stream = stream
	s.state = model.CameraLive
	return nil
}

// fail releases any stream and moves to PermissionError
func (s *Session) fail(err error) error {
	s.release()
	s.state = model.CameraPermissionError
	s.err = err
	return err
}

// Capture grabs the current frame as a JPEG and closes the modal
func (s *Session) Capture(ctx context.Context) (*acquire.Acquired, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != model.CameraLive {
		return nil, goerr.Wrap(model.ErrInvalidState, "capture is only possible while live", goerr.V("state", s.state))
	}

	frame, err := s.stream.Frame(ctx)
	if err != nil {
		logging.From(ctx).Warn("failed to read camera frame", "error", err)
		return nil, s.fail(goerr.Wrap(err, "unable to capture from camera"))
	}

	acquired, err := acquire.FromFrame(frame)
	if err != nil {
		return nil, s.fail(err)
	}

	s.state = model.CameraCaptured
	s.close()
	return acquired, nil
}

// Cancel closes the modal from any state
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.close()
}

// Close is the teardown path. It is safe to call more than once.
func (s *Session) Close() {
	s.Cancel()
}

func (s *Session) close() {
	s.release()
	s.state = model.CameraClosed
	s.err = nil
}

// release stops every track of the held stream. It is the only place a
// stream is stopped.
func (s *Session) release() {
	if s.stream == nil {
		return
	}
	if err := s.stream.Stop(); err != nil {
		logging.Default().Warn("failed to stop camera stream", "error", err)
	}
	s.stream = nil
}
