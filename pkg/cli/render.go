package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/m-mizutani/deepspace/pkg/model"
)

const (
	userMessage     = "Here's what I'd like you to analyze"
	analyzingNotice = "Analyzing in deep space..."
	timeLayout      = "15:04:05"
)

// renderer prints interactions as chat messages
type renderer struct {
	w         io.Writer
	user      *color.Color
	assistant *color.Color
	failure   *color.Color
	faint     *color.Color
}

func newRenderer(w io.Writer, noColor bool) *renderer {
	r := &renderer{
		w:         w,
		user:      color.New(color.FgBlue, color.Bold),
		assistant: color.New(color.FgMagenta, color.Bold),
		failure:   color.New(color.FgRed),
		faint:     color.New(color.Faint),
	}
	if noColor {
		for _, c := range []*color.Color{r.user, r.assistant, r.failure, r.faint} {
			c.DisableColor()
		}
	}
	return r
}

func (r *renderer) interaction(x model.Interaction) {
	ts := r.faint.Sprintf("[%s]", x.Timestamp.Local().Format(timeLayout))

	switch x.Role {
	case model.RoleUser:
		fmt.Fprintf(r.w, "%s %s %s (%s)\n", ts, r.user.Sprint("you:"), userMessage, x.Image)

	case model.RoleAssistant:
		if x.IsError() {
			fmt.Fprintf(r.w, "%s %s %s\n", ts, r.assistant.Sprint("deepspace:"), r.failure.Sprintf("I think this is: %s", x.Label))
			fmt.Fprintf(r.w, "%s %s\n", indent, r.failure.Sprint("The image could not be analyzed."))
			return
		}
		fmt.Fprintf(r.w, "%s %s I think this is: %s\n", ts, r.assistant.Sprint("deepspace:"), x.Label)
		fmt.Fprintf(r.w, "%s Confidence: %.2f%%\n", indent, x.Confidence*100)
	}
}

// indent aligns continuation lines with the text after the timestamp
const indent = "          "

func (r *renderer) history(xs []model.Interaction) {
	if len(xs) == 0 {
		fmt.Fprintln(r.w, r.faint.Sprint("No analyses yet. Upload an image of space to start."))
		return
	}
	for _, x := range xs {
		r.interaction(x)
	}
}

func (r *renderer) analyzing() {
	fmt.Fprintln(r.w, r.faint.Sprint(analyzingNotice))
}

func (r *renderer) cameraState(state model.CameraState, err error) {
	switch state {
	case model.CameraRequesting:
		fmt.Fprintln(r.w, r.faint.Sprint("Requesting camera access..."))
	case model.CameraLive:
		fmt.Fprintln(r.w, "Camera is live.")
	case model.CameraPermissionError:
		fmt.Fprintln(r.w, r.failure.Sprint("Camera access failed. Allow access to the capture device and retry."))
		if err != nil {
			fmt.Fprintln(r.w, r.failure.Sprintf("  %v", err))
		}
	case model.CameraCaptured:
		fmt.Fprintln(r.w, "Photo captured.")
	case model.CameraClosed:
		fmt.Fprintln(r.w, r.faint.Sprint("Camera closed."))
	}
}

func (r *renderer) errorf(format string, args ...any) {
	fmt.Fprintln(r.w, r.failure.Sprintf(format, args...))
}
