package acquire

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/deepspace/pkg/model"
	"github.com/m-mizutani/deepspace/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/nfnt/resize"
)

const (
	// JPEGQuality is used for camera captures and previews
	JPEGQuality = 80
	// PreviewSize bounds the long edge of preview thumbnails
	PreviewSize = 256

	maxImageSize = 32 << 20
	sniffLen     = 512
)

type Source string

const (
	SourceFile   Source = "file"
	SourceDrop   Source = "drop"
	SourceCamera Source = "camera"
)

// Acquired is an image ready for upload together with its preview
type Acquired struct {
	Source  Source
	Request *model.UploadRequest
	// Preview is a JPEG thumbnail. It is nil when the image could not be decoded.
	Preview []byte
}

// FromFiles acquires the first of paths. The rest are ignored, as with a
// multi-file drop.
func FromFiles(ctx context.Context, paths ...string) (*Acquired, error) {
	if len(paths) == 0 {
		return nil, model.ErrNoFile
	}
	if len(paths) > 1 {
		logging.From(ctx).Debug("ignoring extra files", "used", paths[0], "ignored", paths[1:])
	}

	f, err := os.Open(paths[0])
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open image file", goerr.V("path", paths[0]))
	}
	defer f.Close()

	source := SourceFile
	if len(paths) > 1 {
		source = SourceDrop
	}
	return FromReader(ctx, source, filepath.Base(paths[0]), f)
}

// FromReader acquires an image from r. name is used as the upload filename
// and as a MIME type hint.
func FromReader(ctx context.Context, source Source, name string, r io.Reader) (*Acquired, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxImageSize+1))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read image", goerr.V("name", name))
	}
	if len(data) == 0 {
		return nil, goerr.Wrap(model.ErrNoFile, "image is empty", goerr.V("name", name))
	}
	if len(data) > maxImageSize {
		return nil, goerr.New("image is too large", goerr.V("name", name), goerr.V("limit", maxImageSize))
	}

	mimeType := DetectMIMEType(name, data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, goerr.Wrap(model.ErrNotImage, "unsupported file type",
			goerr.V("name", name), goerr.V("mime_type", mimeType))
	}

	acquired := &Acquired{
		Source: source,
		Request: &model.UploadRequest{
			Data:     data,
			MIMEType: mimeType,
			Filename: name,
		},
	}

	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		preview, err := Thumbnail(img)
		if err != nil {
			logging.From(ctx).Warn("failed to create preview", "name", name, "error", err)
		}
		acquired.Preview = preview
	} else {
		logging.From(ctx).Debug("no preview for image", "name", name, "error", err)
	}

	return acquired, nil
}

// FromFrame encodes a captured video frame as JPEG at its native size
func FromFrame(frame image.Image) (*Acquired, error) {
	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, goerr.Wrap(err, "failed to encode captured frame")
	}

	preview, err := Thumbnail(frame)
	if err != nil {
		return nil, err
	}

	return &Acquired{
		Source: SourceCamera,
		Request: &model.UploadRequest{
			Data:     buf.Bytes(),
			MIMEType: "image/jpeg",
			Filename: "capture.jpg",
		},
		Preview: preview,
	}, nil
}

// Thumbnail scales img to fit in PreviewSize x PreviewSize, keeping the
// aspect ratio, and encodes it as JPEG
func Thumbnail(img image.Image) ([]byte, error) {
	thumb := resize.Thumbnail(PreviewSize, PreviewSize, img, resize.Lanczos3)

	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, thumb, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, goerr.Wrap(err, "failed to encode preview")
	}
	return buf.Bytes(), nil
}

// DetectMIMEType sniffs the content type of data, falling back to the
// extension of name
func DetectMIMEType(name string, data []byte) string {
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}

	detected := http.DetectContentType(head)
	if strings.HasPrefix(detected, "image/") {
		return detected
	}

	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
			return mediaType
		}
	}
	return detected
}
