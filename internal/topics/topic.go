package topics

import (
	"fmt"
	"slices"
)

// Name identifies a topic variant.
type Name string

const (
	NameStatus          Name = "status"
	NameImages          Name = "images"
	NameInputImages     Name = "input_images"
	NameDrawnImages     Name = "drawn_images"
	NameSegmentedImages Name = "segmented_images"
)

// Names returns every supported topic name.
func Names() []Name {
	return []Name{NameStatus, NameImages, NameInputImages, NameDrawnImages, NameSegmentedImages}
}

// String returns the topic name as a plain string
func (n Name) String() string {
	return string(n)
}

// Topic is an immutable data record tagged by its name.
// The set of implementations is closed; values are built by a Creator or the New* constructors.
type Topic interface {
	// TopicName returns the variant tag
	TopicName() Name

	isTopic()
}

// StatusValue is the state carried by a status topic.
type StatusValue string

const (
	StatusActive    StatusValue = "ACTIVE"
	StatusPending   StatusValue = "PENDING"
	StatusNonActive StatusValue = "NONACTIVE"
)

// Status reports a component state change.
type Status struct {
	status StatusValue
}

// NewStatus builds a status topic.
func NewStatus(v StatusValue) (Status, error) {
	switch v {
	case StatusActive, StatusPending, StatusNonActive:
		return Status{status: v}, nil
	default:
		return Status{}, fmt.Errorf("unsupported status %q", v)
	}
}

func (Status) TopicName() Name { return NameStatus }
func (Status) isTopic()        {}

// Value returns the reported state
func (s Status) Value() StatusValue { return s.status }

func (s Status) String() string { return fmt.Sprintf("status(%s)", s.status) }

// ImageBatch is a batch of images laid out as (N, C, H, W).
type ImageBatch struct {
	shape []int
	data  []float32
}

// NewImageBatch copies shape and data into a batch and checks the layout.
// A non-zero height or width must match the corresponding dimension.
func NewImageBatch(shape []int, data []float32, height, width int) (ImageBatch, error) {
	if len(shape) != 4 {
		return ImageBatch{}, fmt.Errorf("images must have 4 dimensions, got %d", len(shape))
	}
	for i, d := range shape {
		if d <= 0 {
			return ImageBatch{}, fmt.Errorf("dimension %d must be positive, got %d", i, d)
		}
	}
	if shape[1] != 3 {
		return ImageBatch{}, fmt.Errorf("images size must be (N,C,H,W) with C=3, got %v", shape)
	}
	if height != 0 && shape[2] != height {
		return ImageBatch{}, fmt.Errorf("images height must be %d, got %d", height, shape[2])
	}
	if width != 0 && shape[3] != width {
		return ImageBatch{}, fmt.Errorf("images width must be %d, got %d", width, shape[3])
	}
	// Every dimension is positive, so a running product above len(data) can never match.
	want := 1
	for _, d := range shape {
		if want > len(data)/d {
			return ImageBatch{}, fmt.Errorf("images data has %d values, shape %v needs more", len(data), shape)
		}
		want *= d
	}
	if len(data) != want {
		return ImageBatch{}, fmt.Errorf("images data has %d values, shape %v needs %d", len(data), shape, want)
	}

	return ImageBatch{
		shape: slices.Clone(shape),
		data:  slices.Clone(data),
	}, nil
}

// Shape returns a copy of the (N, C, H, W) dimensions
func (b ImageBatch) Shape() []int { return slices.Clone(b.shape) }

// Data returns a copy of the pixel values
func (b ImageBatch) Data() []float32 { return slices.Clone(b.data) }

// Len returns the number of images in the batch
func (b ImageBatch) Len() int {
	if len(b.shape) == 0 {
		return 0
	}
	return b.shape[0]
}

// Images carries an image batch under one of the image topic names.
type Images struct {
	name  Name
	batch ImageBatch
}

// NewImages builds an image topic. Only images, input_images and drawn_images are accepted;
// segmentation output has its own variant.
func NewImages(name Name, batch ImageBatch) (Images, error) {
	switch name {
	case NameImages, NameInputImages, NameDrawnImages:
		return Images{name: name, batch: batch}, nil
	default:
		return Images{}, fmt.Errorf("topic %q is not an image topic", name)
	}
}

func (i Images) TopicName() Name { return i.name }
func (Images) isTopic()          {}

// Batch returns the carried images
func (i Images) Batch() ImageBatch { return i.batch }

func (i Images) String() string { return fmt.Sprintf("%s(%v)", i.name, i.batch.shape) }

// SegmentedImages carries segmentation masks.
type SegmentedImages struct {
	batch ImageBatch
}

// NewSegmentedImages builds a segmented_images topic.
func NewSegmentedImages(batch ImageBatch) SegmentedImages {
	return SegmentedImages{batch: batch}
}

func (SegmentedImages) TopicName() Name { return NameSegmentedImages }
func (SegmentedImages) isTopic()        {}

// Batch returns the carried masks
func (s SegmentedImages) Batch() ImageBatch { return s.batch }

func (s SegmentedImages) String() string { return fmt.Sprintf("segmented_images(%v)", s.batch.shape) }
