package model

import "github.com/m-mizutani/goerr/v2"

// Prediction is the response body of the classification endpoint
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Validate checks that the label is present and confidence is within [0,1]
func (p Prediction) Validate() error {
	if p.Label == "" {
		return goerr.Wrap(ErrInvalidPrediction, "label is empty")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return goerr.Wrap(ErrInvalidPrediction, "confidence out of range",
			goerr.V("confidence", p.Confidence))
	}
	return nil
}

// UploadRequest holds the image sent in a single classification call
type UploadRequest struct {
	Data     []byte
	MIMEType string
	Filename string
}
