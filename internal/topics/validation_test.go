package topics

import (
	"encoding/json"
	"testing"

	"github.com/nfrund/datahub/internal/topicmgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreator_Status(t *testing.T) {
	c := NewCreator()

	topic, err := c.Create("status", json.RawMessage(`{"status":"PENDING"}`))
	require.NoError(t, err)

	status, ok := topic.(Status)
	require.True(t, ok)
	assert.Equal(t, NameStatus, status.TopicName())
	assert.Equal(t, StatusPending, status.Value())
}

func TestCreator_Images(t *testing.T) {
	c := NewCreator()
	raw := json.RawMessage(`{"shape":[1,3,2,2],"data":[0,1,2,3,4,5,6,7,8,9,10,11],"height":2,"width":2}`)

	for _, name := range []Name{NameImages, NameInputImages, NameDrawnImages} {
		t.Run(string(name), func(t *testing.T) {
			topic, err := c.Create(string(name), raw)
			require.NoError(t, err)

			img, ok := topic.(Images)
			require.True(t, ok)
			assert.Equal(t, name, img.TopicName())
			assert.Equal(t, []int{1, 3, 2, 2}, img.Batch().Shape())
			assert.Equal(t, 1, img.Batch().Len())
		})
	}

	t.Run("segmented", func(t *testing.T) {
		topic, err := c.Create("segmented_images", raw)
		require.NoError(t, err)
		_, ok := topic.(SegmentedImages)
		assert.True(t, ok)
	})
}

func TestCreator_InvalidPayload(t *testing.T) {
	c := NewCreator()

	tests := []struct {
		name  string
		topic string
		raw   string
	}{
		{"empty", "status", ``},
		{"not json", "status", `{status`},
		{"unknown status", "status", `{"status":"SLEEPING"}`},
		{"missing status", "status", `{}`},
		{"extra field", "status", `{"status":"ACTIVE","color":"red"}`},
		{"three dims", "images", `{"shape":[3,2,2],"data":[0,0,0,0,0,0,0,0,0,0,0,0]}`},
		{"two channels", "images", `{"shape":[1,2,1,1],"data":[0,0]}`},
		{"height mismatch", "input_images", `{"shape":[1,3,1,1],"data":[0,0,0],"height":4}`},
		{"width mismatch", "drawn_images", `{"shape":[1,3,1,1],"data":[0,0,0],"width":4}`},
		{"short data", "segmented_images", `{"shape":[2,3,1,1],"data":[0,0,0]}`},
		{"zero dim", "images", `{"shape":[0,3,1,1],"data":[]}`},
		{"overflowing shape", "images", `{"shape":[4611686018427387904,3,4,1],"data":[]}`},
		{"huge batch", "input_images", `{"shape":[4611686018427387904,3,1,1],"data":[0,0,0]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Create(tt.topic, json.RawMessage(tt.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, topicmgr.ErrInvalidPayload)
		})
	}
}

func TestNewImageBatch_ShapeProductOverflow(t *testing.T) {
	_, err := NewImageBatch([]int{1 << 62, 3, 4, 1}, nil, 0, 0)
	assert.Error(t, err)

	_, err = NewImageBatch([]int{1 << 40, 3, 1 << 40, 1}, make([]float32, 3), 0, 0)
	assert.Error(t, err)
}

func TestCreator_UnknownTopic(t *testing.T) {
	_, err := NewCreator().Create("lidar", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, topicmgr.ErrUnknownTopic)
}

func TestImageBatch_Immutable(t *testing.T) {
	shape := []int{1, 3, 1, 1}
	data := []float32{1, 2, 3}

	batch, err := NewImageBatch(shape, data, 0, 0)
	require.NoError(t, err)

	shape[0] = 9
	data[0] = 9
	batch.Data()[1] = 9

	assert.Equal(t, []int{1, 3, 1, 1}, batch.Shape())
	assert.Equal(t, []float32{1, 2, 3}, batch.Data())
}

func TestNewImages_RejectsNonImageName(t *testing.T) {
	batch, err := NewImageBatch([]int{1, 3, 1, 1}, []float32{0, 0, 0}, 0, 0)
	require.NoError(t, err)

	_, err = NewImages(NameStatus, batch)
	assert.Error(t, err)
	_, err = NewImages(NameSegmentedImages, batch)
	assert.Error(t, err)
}

func TestNewStatus(t *testing.T) {
	_, err := NewStatus("DONE")
	assert.Error(t, err)

	s, err := NewStatus(StatusActive)
	require.NoError(t, err)
	assert.Equal(t, "status(ACTIVE)", s.String())
	assert.Len(t, Names(), 5)
}
