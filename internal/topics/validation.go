package topics

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/nfrund/datahub/internal/topicmgr"
)

// Factory turns raw payloads into validated topics.
type Factory interface {
	Create(name string, raw json.RawMessage) (Topic, error)
}

// Creator is the default Factory. It decodes JSON payloads and checks their shape.
type Creator struct {
	validate *validator.Validate
}

// Compile-time interface compliance check
var _ Factory = (*Creator)(nil)

// NewCreator creates a Creator.
func NewCreator() *Creator {
	return &Creator{validate: validator.New()}
}

type statusPayload struct {
	Status StatusValue `json:"status" validate:"required,oneof=ACTIVE PENDING NONACTIVE"`
}

type imagesPayload struct {
	Shape  []int     `json:"shape" validate:"required,len=4,dive,gt=0"`
	Data   []float32 `json:"data" validate:"required"`
	Height int       `json:"height" validate:"gte=0"`
	Width  int       `json:"width" validate:"gte=0"`
}

// Create builds the topic variant registered under name from raw.
// Unknown names fail with topicmgr.ErrUnknownTopic, bad payloads with topicmgr.ErrInvalidPayload.
func (c *Creator) Create(name string, raw json.RawMessage) (Topic, error) {
	switch Name(name) {
	case NameStatus:
		var p statusPayload
		if err := c.decode(name, raw, &p); err != nil {
			return nil, err
		}
		s, err := NewStatus(p.Status)
		if err != nil {
			return nil, invalidPayload(name, err)
		}
		return s, nil

	case NameImages, NameInputImages, NameDrawnImages:
		batch, err := c.decodeBatch(name, raw)
		if err != nil {
			return nil, err
		}
		img, err := NewImages(Name(name), batch)
		if err != nil {
			return nil, invalidPayload(name, err)
		}
		return img, nil

	case NameSegmentedImages:
		batch, err := c.decodeBatch(name, raw)
		if err != nil {
			return nil, err
		}
		return NewSegmentedImages(batch), nil

	default:
		return nil, &topicmgr.TopicError{
			Type:    topicmgr.ErrorUnknownTopic,
			Topic:   name,
			Message: fmt.Sprintf("system does not support topic %q", name),
		}
	}
}

func (c *Creator) decodeBatch(name string, raw json.RawMessage) (ImageBatch, error) {
	var p imagesPayload
	if err := c.decode(name, raw, &p); err != nil {
		return ImageBatch{}, err
	}
	batch, err := NewImageBatch(p.Shape, p.Data, p.Height, p.Width)
	if err != nil {
		return ImageBatch{}, invalidPayload(name, err)
	}
	return batch, nil
}

func (c *Creator) decode(name string, raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return invalidPayload(name, fmt.Errorf("payload is empty"))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalidPayload(name, err)
	}
	if err := c.validate.Struct(dst); err != nil {
		return invalidPayload(name, err)
	}
	return nil
}

func invalidPayload(name string, cause error) error {
	return &topicmgr.TopicError{
		Type:    topicmgr.ErrorInvalidPayload,
		Topic:   name,
		Message: fmt.Sprintf("invalid payload for topic %q", name),
		Cause:   cause,
	}
}
