package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/m-mizutani/deepspace/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

const (
	// DefaultEndpoint is the base URL of the classification service
	DefaultEndpoint = "http://localhost:8000"

	predictPath = "/predict"
	fileField   = "file"
	maxBodySize = 1 << 20
)

// Classifier sends an image to the classification service
type Classifier interface {
	Classify(ctx context.Context, req *model.UploadRequest) (*model.Prediction, error)
}

type httpClassifier struct {
	endpoint   string
	httpClient *http.Client
}

type ClassifierOption func(*httpClassifier)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(client *http.Client) ClassifierOption {
	return func(c *httpClassifier) {
		c.httpClient = client
	}
}

// NewClassifier creates a Classifier posting to <endpoint>/predict. The default
// client has no timeout: a request runs until the server answers or the
// connection fails.
func NewClassifier(endpoint string, opts ...ClassifierOption) Classifier {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	c := &httpClassifier{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClassifier) Classify(ctx context.Context, req *model.UploadRequest) (*model.Prediction, error) {
	body, contentType, err := encodeMultipart(req)
	if err != nil {
		return nil, err
	}

	url := c.endpoint + predictPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create request", goerr.V("url", url))
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to send request", goerr.V("url", url))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read response body", goerr.V("url", url))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, goerr.New("classification endpoint returned error",
			goerr.V("url", url),
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(data)))
	}

	var prediction model.Prediction
	if err := json.Unmarshal(data, &prediction); err != nil {
		return nil, goerr.Wrap(model.ErrInvalidPrediction, "failed to decode response",
			goerr.V("error", err.Error()),
			goerr.V("body", string(data)))
	}
	if err := prediction.Validate(); err != nil {
		return nil, goerr.Wrap(err, "unexpected response", goerr.V("body", string(data)))
	}

	return &prediction, nil
}

// encodeMultipart builds a form with a single file field
func encodeMultipart(req *model.UploadRequest) (io.Reader, string, error) {
	if req == nil || len(req.Data) == 0 {
		return nil, "", goerr.Wrap(model.ErrNoFile, "upload request has no data")
	}

	filename := req.Filename
	if filename == "" {
		filename = "upload"
	}
	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		fileField, escapeQuotes(filename)))
	h.Set("Content-Type", mimeType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", goerr.Wrap(err, "failed to create form part")
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, "", goerr.Wrap(err, "failed to write form part")
	}
	if err := w.Close(); err != nil {
		return nil, "", goerr.Wrap(err, "failed to close multipart writer")
	}

	return buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
