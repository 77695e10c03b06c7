package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/m-mizutani/deepspace/pkg/utils/logging"
	"github.com/m-mizutani/gt"
)

func TestNewLevel(t *testing.T) {
	testCases := []struct {
		level     string
		wantDebug bool
		wantWarn  bool
	}{
		{"debug", true, true},
		{"WARNING", false, true},
		{"error", false, false},
		{"bogus", false, true},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := logging.New(tc.level, buf)
			logger.Debug("camera frame")
			logger.Warn("slow upload")

			if tc.wantDebug {
				gt.S(t, buf.String()).Contains("camera frame")
			} else {
				gt.S(t, buf.String()).NotContains("camera frame")
			}
			if tc.wantWarn {
				gt.S(t, buf.String()).Contains("slow upload")
			} else {
				gt.S(t, buf.String()).NotContains("slow upload")
			}
		})
	}
}

func TestConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("info", buf)
	logger.Info("upload failed", "image", "images/a.jpg")

	gt.S(t, buf.String()).Contains("upload failed")
	gt.S(t, buf.String()).Contains("images/a.jpg")

	// console output is not JSON
	var record map[string]any
	gt.Error(t, json.Unmarshal(buf.Bytes(), &record))
}

func TestJSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("info", buf, logging.WithFormat(logging.FormatJSON))

	logger.Info("upload failed", "image", "images/a.jpg")

	var record map[string]any
	gt.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	gt.Equal(t, record["msg"], any("upload failed"))
	gt.Equal(t, record["image"], any("images/a.jpg"))
}

func TestFromFallsBackToDefault(t *testing.T) {
	original := logging.Default()
	defer logging.SetDefault(original)

	fallback := &bytes.Buffer{}
	logging.SetDefault(logging.New("info", fallback))
	logging.From(context.Background()).Info("no logger in context")
	gt.S(t, fallback.String()).Contains("no logger in context")

	attached := &bytes.Buffer{}
	ctx := logging.With(context.Background(), logging.New("info", attached))
	logging.From(ctx).Info("history loaded")
	gt.S(t, attached.String()).Contains("history loaded")
	gt.S(t, fallback.String()).NotContains("history loaded")
}

func TestParseFormat(t *testing.T) {
	testCases := []struct {
		input   string
		want    logging.Format
		wantErr bool
	}{
		{"", logging.FormatConsole, false},
		{"console", logging.FormatConsole, false},
		{"JSON", logging.FormatJSON, false},
		{"xml", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := logging.ParseFormat(tc.input)
			if tc.wantErr {
				gt.Error(t, err)
				return
			}
			gt.NoError(t, err)
			gt.Equal(t, got, tc.want)
		})
	}
}
