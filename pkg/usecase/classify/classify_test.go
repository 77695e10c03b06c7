package classify_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/m-mizutani/deepspace/pkg/adapter"
	"github.com/m-mizutani/deepspace/pkg/model"
	"github.com/m-mizutani/deepspace/pkg/repository"
	"github.com/m-mizutani/deepspace/pkg/usecase/acquire"
	"github.com/m-mizutani/deepspace/pkg/usecase/classify"
	"github.com/m-mizutani/deepspace/pkg/usecase/history"
	"github.com/m-mizutani/gt"
)

func newAcquired(name string) *acquire.Acquired {
	return &acquire.Acquired{
		Source: acquire.SourceFile,
		Request: &model.UploadRequest{
			Data:     []byte("image-" + name),
			MIMEType: "image/jpeg",
			Filename: name,
		},
		Preview: []byte("preview-" + name),
	}
}

type fixture struct {
	repo    *repository.Memory
	storage adapter.Storage
	log     *history.Log
	uc      *classify.UseCase
}

func setup(t *testing.T, classifier adapter.Classifier) *fixture {
	ctx := context.Background()
	storage, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)

	repo := repository.NewMemory()
	log := history.New(ctx, repo, history.WithClearHook(classify.PurgeImages(storage)))

	return &fixture{
		repo:    repo,
		storage: storage,
		log:     log,
		uc:      classify.New(log, classifier, storage),
	}
}

func TestSubmitSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"label":"galaxy","confidence":0.87}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	f := setup(t, adapter.NewClassifier(srv.URL))

	p, err := f.uc.Submit(ctx, newAcquired("a.jpg"))
	gt.NoError(t, err)

	// the user interaction is in the log before the response
	gt.Equal(t, p.User.Role, model.RoleUser)
	gt.Equal(t, f.log.Entries()[0].ID, p.User.ID)

	result := p.Wait()
	gt.Equal(t, result.Role, model.RoleAssistant)
	gt.Equal(t, result.Label, "galaxy")
	gt.Equal(t, result.Confidence, 0.87)
	gt.Equal(t, result.Image, p.User.Image)
	gt.False(t, f.uc.Busy())

	entries := f.log.Entries()
	gt.A(t, entries).Length(2)
	gt.Equal(t, entries[1].ID, result.ID)

	data, err := adapter.GetBytes(ctx, f.storage, string(p.User.Image))
	gt.NoError(t, err)
	gt.Equal(t, string(data), "image-a.jpg")
	gt.S(t, string(p.User.Image)).Contains(".jpg")

	preview, err := adapter.GetBytes(ctx, f.storage, string(p.User.Preview))
	gt.NoError(t, err)
	gt.Equal(t, string(preview), "preview-a.jpg")
}

func TestSubmitFailures(t *testing.T) {
	testCases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "internal", http.StatusInternalServerError)
			},
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>oops</html>"))
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			ctx := context.Background()
			f := setup(t, adapter.NewClassifier(srv.URL))

			result, err := f.uc.Classify(ctx, newAcquired("b.jpg"))
			gt.NoError(t, err)
			gt.Equal(t, result.Label, model.ErrorLabel)
			gt.Equal(t, result.Confidence, 0.0)

			entries := f.log.Entries()
			gt.A(t, entries).Length(2)
			gt.Equal(t, entries[0].Role, model.RoleUser)
			gt.Equal(t, entries[1].Label, "Error")
			gt.Equal(t, entries[1].Image, entries[0].Image)
		})
	}
}

func TestSubmitNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	f := setup(t, adapter.NewClassifier(url))
	result, err := f.uc.Classify(context.Background(), newAcquired("c.png"))
	gt.NoError(t, err)
	gt.True(t, result.IsError())
}

func TestSubmitCancelledContextStillCompletes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"label":"comet","confidence":0.5}`))
	}))
	defer srv.Close()

	f := setup(t, adapter.NewClassifier(srv.URL))
	ctx, cancel := context.WithCancel(context.Background())

	p, err := f.uc.Submit(ctx, newAcquired("d.jpg"))
	gt.NoError(t, err)
	cancel()

	result := p.Wait()
	gt.Equal(t, result.Label, "comet")
	gt.Equal(t, f.log.Len(), 2)
}

// blockingClassifier answers each image only when released, so tests control
// completion order
type blockingClassifier struct {
	mu      sync.Mutex
	release map[string]chan struct{}
}

func (b *blockingClassifier) gate(name string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.release == nil {
		b.release = make(map[string]chan struct{})
	}
	if _, ok := b.release[name]; !ok {
		b.release[name] = make(chan struct{})
	}
	return b.release[name]
}

func (b *blockingClassifier) Classify(ctx context.Context, req *model.UploadRequest) (*model.Prediction, error) {
	<-b.gate(req.Filename)
	if req.Filename == "fail.jpg" {
		return nil, errors.New("connection reset")
	}
	return &model.Prediction{Label: "label-" + req.Filename, Confidence: 0.5}, nil
}

func TestOverlappingSubmissions(t *testing.T) {
	ctx := context.Background()
	classifier := &blockingClassifier{}
	f := setup(t, classifier)

	first, err := f.uc.Submit(ctx, newAcquired("first.jpg"))
	gt.NoError(t, err)
	second, err := f.uc.Submit(ctx, newAcquired("fail.jpg"))
	gt.NoError(t, err)
	gt.True(t, f.uc.Busy())

	// second answers before first
	close(classifier.gate("fail.jpg"))
	secondResult := second.Wait()
	gt.True(t, f.uc.Busy())
	close(classifier.gate("first.jpg"))
	firstResult := first.Wait()
	f.uc.Wait()
	gt.False(t, f.uc.Busy())

	gt.Equal(t, firstResult.Image, first.User.Image)
	gt.Equal(t, firstResult.Label, "label-first.jpg")
	gt.Equal(t, secondResult.Image, second.User.Image)
	gt.True(t, secondResult.IsError())

	entries := f.log.Entries()
	gt.A(t, entries).Length(4)
	gt.Equal(t, entries[0].ID, first.User.ID)
	gt.Equal(t, entries[1].ID, second.User.ID)
	gt.Equal(t, entries[2].ID, secondResult.ID)
	gt.Equal(t, entries[3].ID, firstResult.ID)
}

func TestClearPurgesImages(t *testing.T) {
	ctx := context.Background()
	f := setup(t, &staticClassifier{})

	result, err := f.uc.Classify(ctx, newAcquired("e.jpg"))
	gt.NoError(t, err)

	f.log.Clear(ctx)
	gt.Equal(t, f.log.Len(), 0)

	_, err = adapter.GetBytes(ctx, f.storage, string(result.Image))
	gt.True(t, errors.Is(err, model.ErrObjectNotFound))
	_, err = adapter.GetBytes(ctx, f.storage, string(result.Preview))
	gt.True(t, errors.Is(err, model.ErrObjectNotFound))

	_, err = f.repo.GetHistory(ctx)
	gt.True(t, errors.Is(err, model.ErrHistoryNotFound))
}

type staticClassifier struct{}

func (s *staticClassifier) Classify(ctx context.Context, req *model.UploadRequest) (*model.Prediction, error) {
	return &model.Prediction{Label: "nebula", Confidence: 1}, nil
}

func TestSubmitNothing(t *testing.T) {
	f := setup(t, &staticClassifier{})
	_, err := f.uc.Submit(context.Background(), nil)
	gt.True(t, errors.Is(err, model.ErrNoFile))
	gt.Equal(t, f.log.Len(), 0)
}
