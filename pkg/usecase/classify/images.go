package classify

import (
	"context"
	"mime"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/deepspace/pkg/adapter"
	"github.com/m-mizutani/deepspace/pkg/model"
	"github.com/m-mizutani/deepspace/pkg/usecase/acquire"
	"github.com/m-mizutani/deepspace/pkg/utils/logging"
)

const (
	imagePrefix   = "images/"
	previewPrefix = "previews/"
)

// storeImage saves the upload and its preview. Storage failures are logged
// and the returned refs are used anyway, so the history still records the
// submission.
func (u *UseCase) storeImage(ctx context.Context, acquired *acquire.Acquired) (image, preview model.ImageRef) {
	logger := logging.From(ctx)
	id := string(model.NewInteractionID())

	image = model.ImageRef(imagePrefix + id + imageExt(acquired.Request))
	if err := adapter.PutBytes(ctx, u.storage, string(image), acquired.Request.Data); err != nil {
		logger.Warn("failed to store image", "image", image, "error", err)
	}

	if acquired.Preview != nil {
		preview = model.ImageRef(previewPrefix + id + ".jpg")
		if err := adapter.PutBytes(ctx, u.storage, string(preview), acquired.Preview); err != nil {
			logger.Warn("failed to store preview", "preview", preview, "error", err)
		}
	}

	return image, preview
}

func imageExt(req *model.UploadRequest) string {
	if ext := filepath.Ext(req.Filename); ext != "" {
		return strings.ToLower(ext)
	}
	if exts, err := mime.ExtensionsByType(req.MIMEType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// PurgeImages returns a history clear hook deleting the stored images of the
// cleared interactions
func PurgeImages(storage adapter.Storage) func(ctx context.Context, cleared []model.Interaction) {
	return func(ctx context.Context, cleared []model.Interaction) {
		logger := logging.From(ctx)
		seen := make(map[model.ImageRef]struct{})

		for _, x := range cleared {
			for _, ref := range []model.ImageRef{x.Image, x.Preview} {
				if ref == "" {
					continue
				}
				if _, ok := seen[ref]; ok {
					continue
				}
				seen[ref] = struct{}{}

				if err := storage.Delete(ctx, string(ref)); err != nil {
					logger.Warn("failed to delete stored image", "image", ref, "error", err)
				}
			}
		}
	}
}
