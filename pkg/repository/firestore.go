package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/deepspace/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultCollection = "deepspace"

// Firestore keeps the log in a single document
type Firestore struct {
	client     *firestore.Client
	collection string
}

type historyDoc struct {
	Data      string    `firestore:"data"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

type FirestoreOption func(*Firestore)

// WithCollection changes the collection holding the history document
func WithCollection(name string) FirestoreOption {
	return func(f *Firestore) {
		f.collection = name
	}
}

// NewFirestore creates a Firestore-backed Repository
func NewFirestore(ctx context.Context, projectID, databaseID string, clientOpts []option.ClientOption, opts ...FirestoreOption) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("project ID is required")
	}
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID, clientOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}

	f := &Firestore{
		client:     client,
		collection: defaultCollection,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (r *Firestore) doc() *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(HistoryKey)
}

func (r *Firestore) GetHistory(ctx context.Context) ([]byte, error) {
	snap, err := r.doc().Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, goerr.Wrap(model.ErrHistoryNotFound, "no history document", goerr.V("collection", r.collection))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get history document")
	}

	var doc historyDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode history document")
	}
	return []byte(doc.Data), nil
}

func (r *Firestore) PutHistory(ctx context.Context, data []byte) error {
	doc := historyDoc{
		Data:      string(data),
		UpdatedAt: time.Now(),
	}
	if _, err := r.doc().Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put history document")
	}
	return nil
}

func (r *Firestore) DeleteHistory(ctx context.Context) error {
	if _, err := r.doc().Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return goerr.Wrap(err, "failed to delete history document")
	}
	return nil
}

// Close releases the underlying client
func (r *Firestore) Close() error {
	if err := r.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close firestore client")
	}
	return nil
}
