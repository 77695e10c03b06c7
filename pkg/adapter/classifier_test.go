package adapter_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/deepspace/pkg/adapter"
	"github.com/m-mizutani/deepspace/pkg/model"
	"github.com/m-mizutani/gt"
)

func TestClassifySuccess(t *testing.T) {
	var (
		gotField    string
		gotFilename string
		gotType     string
		gotData     []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predict" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for name, headers := range r.MultipartForm.File {
			gotField = name
			gotFilename = headers[0].Filename
			gotType = headers[0].Header.Get("Content-Type")
			f, err := headers[0].Open()
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			gotData, _ = io.ReadAll(f)
			f.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"label":"galaxy","confidence":0.87}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	classifier := adapter.NewClassifier(srv.URL + "/")

	pred, err := classifier.Classify(ctx, &model.UploadRequest{
		Data:     []byte("fake-jpeg"),
		MIMEType: "image/jpeg",
		Filename: "a.jpg",
	})
	gt.NoError(t, err)
	gt.Equal(t, pred.Label, "galaxy")
	gt.Equal(t, pred.Confidence, 0.87)

	gt.Equal(t, gotField, "file")
	gt.Equal(t, gotFilename, "a.jpg")
	gt.Equal(t, gotType, "image/jpeg")
	gt.Equal(t, string(gotData), "fake-jpeg")
}

func TestClassifyFailure(t *testing.T) {
	testCases := []struct {
		name    string
		status  int
		body    string
		invalid bool
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"detail":"boom"}`},
		{name: "not found", status: http.StatusNotFound, body: "not found"},
		{name: "malformed json", status: http.StatusOK, body: `{"label":`, invalid: true},
		{name: "missing label", status: http.StatusOK, body: `{"confidence":0.5}`, invalid: true},
		{name: "confidence out of range", status: http.StatusOK, body: `{"label":"galaxy","confidence":1.5}`, invalid: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			classifier := adapter.NewClassifier(srv.URL)
			pred, err := classifier.Classify(context.Background(), &model.UploadRequest{
				Data:     []byte("x"),
				MIMEType: "image/png",
			})
			gt.Error(t, err)
			gt.Nil(t, pred)
			gt.Equal(t, errors.Is(err, model.ErrInvalidPrediction), tc.invalid)
		})
	}
}

func TestClassifyNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	classifier := adapter.NewClassifier(url)
	_, err := classifier.Classify(context.Background(), &model.UploadRequest{Data: []byte("x")})
	gt.Error(t, err)
}

func TestClassifyEmptyRequest(t *testing.T) {
	classifier := adapter.NewClassifier("http://127.0.0.1:1")
	_, err := classifier.Classify(context.Background(), &model.UploadRequest{})
	gt.True(t, errors.Is(err, model.ErrNoFile))
}
