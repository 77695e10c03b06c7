package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// ErrorLabel is substituted for the label when classification fails
const ErrorLabel = "Error"

type InteractionID string

// NewInteractionID generates a new unique InteractionID
func NewInteractionID() InteractionID {
	return InteractionID(uuid.New().String())
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Validate checks if the role is valid
func (r Role) Validate() error {
	switch r {
	case RoleUser, RoleAssistant:
		return nil
	default:
		return goerr.New("invalid role", goerr.V("role", r))
	}
}

// ImageRef is an opaque handle to stored image bytes
type ImageRef string

// Interaction is one event in the history, either a submitted image or the
// classification answer for it
type Interaction struct {
	ID         InteractionID `json:"id"`
	Role       Role          `json:"role"`
	Image      ImageRef      `json:"image,omitempty"`
	Preview    ImageRef      `json:"preview,omitempty"`
	Label      string        `json:"label,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// MarshalJSON always writes confidence for assistant interactions, so a
// failure sentinel keeps its explicit zero
func (x Interaction) MarshalJSON() ([]byte, error) {
	type plain Interaction
	if x.Role != RoleAssistant {
		return json.Marshal(plain(x))
	}
	return json.Marshal(struct {
		plain
		Confidence float64 `json:"confidence"`
	}{plain: plain(x), Confidence: x.Confidence})
}

// NewUserInteraction creates an Interaction for a submitted image
func NewUserInteraction(image, preview ImageRef) Interaction {
	return Interaction{
		ID:        NewInteractionID(),
		Role:      RoleUser,
		Image:     image,
		Preview:   preview,
		Timestamp: time.Now().UTC(),
	}
}

// NewAssistantInteraction creates an Interaction from a classification result
func NewAssistantInteraction(image, preview ImageRef, p Prediction) Interaction {
	return Interaction{
		ID:         NewInteractionID(),
		Role:       RoleAssistant,
		Image:      image,
		Preview:    preview,
		Label:      p.Label,
		Confidence: p.Confidence,
		Timestamp:  time.Now().UTC(),
	}
}

// NewErrorInteraction creates the sentinel assistant Interaction recorded
// when classification of image failed
func NewErrorInteraction(image, preview ImageRef) Interaction {
	return NewAssistantInteraction(image, preview, Prediction{Label: ErrorLabel})
}

// IsError reports whether the Interaction is a failure sentinel
func (x Interaction) IsError() bool {
	return x.Role == RoleAssistant && x.Label == ErrorLabel && x.Confidence == 0
}

// Validate checks if the interaction is valid
func (x Interaction) Validate() error {
	if err := x.Role.Validate(); err != nil {
		return err
	}
	if x.Image == "" {
		return goerr.New("interaction has no image", goerr.V("id", x.ID))
	}

	switch x.Role {
	case RoleUser:
		if x.Label != "" || x.Confidence != 0 {
			return goerr.New("user interaction must not have a result", goerr.V("id", x.ID))
		}
	case RoleAssistant:
		if err := (Prediction{Label: x.Label, Confidence: x.Confidence}).Validate(); err != nil {
			return goerr.Wrap(err, "invalid assistant interaction", goerr.V("id", x.ID))
		}
	}

	return nil
}
