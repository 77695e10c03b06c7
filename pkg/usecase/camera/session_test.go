package camera_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"testing"

	"github.com/m-mizutani/deepspace/pkg/adapter"
	"github.com/m-mizutani/deepspace/pkg/model"
	"github.com/m-mizutani/deepspace/pkg/usecase/camera"
	"github.com/m-mizutani/gt"
)

type mockStream struct {
	mu       sync.Mutex
	tracks   int
	frameErr error
	width    int
	height   int
}

func (m *mockStream) Frame(ctx context.Context) (image.Image, error) {
	if m.frameErr != nil {
		return nil, m.frameErr
	}
	return image.NewRGBA(image.Rect(0, 0, m.width, m.height)), nil
}

func (m *mockStream) Tracks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracks
}

func (m *mockStream) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks = 0
	return nil
}

type mockCamera struct {
	permission    model.CameraPermission
	permissionErr error
	openErr       error
	frameErr      error
	streams       []*mockStream
}

func (m *mockCamera) Permission(ctx context.Context) (model.CameraPermission, error) {
	return m.permission, m.permissionErr
}

func (m *mockCamera) Open(ctx context.Context) (adapter.CameraStream, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	s := &mockStream{tracks: 1, frameErr: m.frameErr, width: 1280, height: 720}
	m.streams = append(m.streams, s)
	return s, nil
}

// openTracks counts tracks still running across every stream ever opened
func (m *mockCamera) openTracks() int {
	n := 0
	for _, s := range m.streams {
		n += s.Tracks()
	}
	return n
}

func TestCaptureClosesStream(t *testing.T) {
	ctx := context.Background()
	cam := &mockCamera{permission: model.CameraPermissionGranted}
	s := camera.New(cam)
	gt.Equal(t, s.State(), model.CameraClosed)

	gt.NoError(t, s.Open(ctx))
	gt.Equal(t, s.State(), model.CameraLive)
	gt.Equal(t, s.ActiveTracks(), 1)

	acquired, err := s.Capture(ctx)
	gt.NoError(t, err)
	gt.Equal(t, acquired.Request.MIMEType, "image/jpeg")
	gt.Equal(t, acquired.Request.Filename, "capture.jpg")

	img, err := jpeg.Decode(bytes.NewReader(acquired.Request.Data))
	gt.NoError(t, err)
	gt.Equal(t, img.Bounds().Dx(), 1280)
	gt.Equal(t, img.Bounds().Dy(), 720)

	gt.Equal(t, s.State(), model.CameraClosed)
	gt.Equal(t, s.ActiveTracks(), 0)
	gt.Equal(t, cam.openTracks(), 0)
}

func TestCancelFromLive(t *testing.T) {
	ctx := context.Background()
	cam := &mockCamera{permission: model.CameraPermissionGranted}
	s := camera.New(cam)

	gt.NoError(t, s.Open(ctx))
	s.Cancel()
	gt.Equal(t, s.State(), model.CameraClosed)
	gt.Equal(t, cam.openTracks(), 0)

	// can be opened again afterwards
	gt.NoError(t, s.Open(ctx))
	gt.Equal(t, s.State(), model.CameraLive)
	s.Close()
	s.Close()
	gt.Equal(t, cam.openTracks(), 0)
	gt.A(t, cam.streams).Length(2)
}

func TestPermissionDenied(t *testing.T) {
	ctx := context.Background()
	cam := &mockCamera{permission: model.CameraPermissionDenied}
	s := camera.New(cam)

	err := s.Open(ctx)
	gt.True(t, errors.Is(err, model.ErrPermissionDenied))
	gt.Equal(t, s.State(), model.CameraPermissionError)
	gt.Error(t, s.Err())
	gt.A(t, cam.streams).Length(0)
	gt.Equal(t, s.ActiveTracks(), 0)

	// retry while still denied stays in error
	gt.Error(t, s.Retry(ctx))
	gt.Equal(t, s.State(), model.CameraPermissionError)

	// user grants access, then retries
	cam.permission = model.CameraPermissionGranted
	gt.NoError(t, s.Retry(ctx))
	gt.Equal(t, s.State(), model.CameraLive)
	gt.NoError(t, s.Err())

	s.Cancel()
	gt.Equal(t, cam.openTracks(), 0)
}

func TestCancelFromPermissionError(t *testing.T) {
	ctx := context.Background()
	cam := &mockCamera{permissionErr: errors.New("permission query not supported")}
	s := camera.New(cam)

	gt.Error(t, s.Open(ctx))
	gt.Equal(t, s.State(), model.CameraPermissionError)

	s.Cancel()
	gt.Equal(t, s.State(), model.CameraClosed)
	gt.NoError(t, s.Err())
}

func TestOpenFailure(t *testing.T) {
	ctx := context.Background()
	cam := &mockCamera{permission: model.CameraPermissionPrompt, openErr: model.ErrCameraUnavailable}
	s := camera.New(cam)

	err := s.Open(ctx)
	gt.True(t, errors.Is(err, model.ErrCameraUnavailable))
	gt.Equal(t, s.State(), model.CameraPermissionError)
	gt.Equal(t, s.ActiveTracks(), 0)
}

func TestFrameErrorReleasesStream(t *testing.T) {
	ctx := context.Background()
	cam := &mockCamera{permission: model.CameraPermissionGranted, frameErr: errors.New("device unplugged")}
	s := camera.New(cam)

	gt.NoError(t, s.Open(ctx))
	_, err := s.Capture(ctx)
	gt.Error(t, err)
	gt.Equal(t, s.State(), model.CameraPermissionError)
	gt.Equal(t, cam.openTracks(), 0)
}

func TestInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	cam := &mockCamera{permission: model.CameraPermissionGranted}
	s := camera.New(cam)

	_, err := s.Capture(ctx)
	gt.True(t, errors.Is(err, model.ErrInvalidState))

	gt.True(t, errors.Is(s.Retry(ctx), model.ErrInvalidState))

	gt.NoError(t, s.Open(ctx))
	gt.True(t, errors.Is(s.Open(ctx), model.ErrInvalidState))
	gt.Equal(t, s.State(), model.CameraLive)

	s.Close()
	gt.Equal(t, cam.openTracks(), 0)
}
