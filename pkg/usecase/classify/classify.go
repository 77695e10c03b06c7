package classify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/m-mizutani/deepspace/pkg/adapter"
	"github.com/m-mizutani/deepspace/pkg/model"
	"github.com/m-mizutani/deepspace/pkg/usecase/acquire"
	"github.com/m-mizutani/deepspace/pkg/usecase/history"
	"github.com/m-mizutani/deepspace/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// UseCase submits acquired images to the classifier and records both sides
// of the exchange in the log
type UseCase struct {
	log        *history.Log
	classifier adapter.Classifier
	storage    adapter.Storage

	inflight atomic.Int64
	wg       sync.WaitGroup
}

func New(log *history.Log, classifier adapter.Classifier, storage adapter.Storage) *UseCase {
	return &UseCase{
		log:        log,
		classifier: classifier,
		storage:    storage,
	}
}

// Pending is an upload that has been sent and not yet answered
type Pending struct {
	// User is the interaction appended when the image was submitted
	User model.Interaction

	done   chan struct{}
	result model.Interaction
}

// Done is closed once the assistant interaction is in the log
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the response arrives and returns the assistant interaction
func (p *Pending) Wait() model.Interaction {
	<-p.done
	return p.result
}

// Busy reports whether any upload is still outstanding
func (u *UseCase) Busy() bool {
	return u.inflight.Load() > 0
}

// Wait blocks until every outstanding upload has been recorded
func (u *UseCase) Wait() {
	u.wg.Wait()
}

// Submit stores the image, appends the user interaction and starts the
// classification call. The call is not cancellable: it always ends with an
// assistant interaction in the log, either the prediction or the error
// sentinel.
func (u *UseCase) Submit(ctx context.Context, acquired *acquire.Acquired) (*Pending, error) {
	if acquired == nil || acquired.Request == nil {
		return nil, goerr.Wrap(model.ErrNoFile, "nothing to submit")
	}

	image, preview := u.storeImage(ctx, acquired)

	user := model.NewUserInteraction(image, preview)
	if err := u.log.Append(ctx, user); err != nil {
		return nil, goerr.Wrap(err, "failed to append user interaction")
	}

	p := &Pending{
		User: user,
		done: make(chan struct{}),
	}

	u.inflight.Add(1)
	u.wg.Add(1)
	go func() {
		defer close(p.done)
		defer u.wg.Done()
		defer u.inflight.Add(-1)

		p.result = u.classify(context.WithoutCancel(ctx), acquired.Request, image, preview)
	}()

	return p, nil
}

// Classify submits the image and waits for the answer
func (u *UseCase) Classify(ctx context.Context, acquired *acquire.Acquired) (model.Interaction, error) {
	p, err := u.Submit(ctx, acquired)
	if err != nil {
		return model.Interaction{}, err
	}
	return p.Wait(), nil
}

func (u *UseCase) classify(ctx context.Context, req *model.UploadRequest, image, preview model.ImageRef) model.Interaction {
	logger := logging.From(ctx).With("image", image)

	var result model.Interaction
	prediction, err := u.classifier.Classify(ctx, req)
	if err != nil {
		logger.Error("upload failed", "error", err)
		result = model.NewErrorInteraction(image, preview)
	} else {
		logger.Debug("classified", "label", prediction.Label, "confidence", prediction.Confidence)
		result = model.NewAssistantInteraction(image, preview, *prediction)
	}

	if err := u.log.Append(ctx, result); err != nil {
		// only reachable if the log was cleared while the request was in flight
		logger.Warn("dropped classification result", "error", err)
	}
	return result
}
