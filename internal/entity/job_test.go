package entity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobRoundTrip(t *testing.T) {
	job := Job{
		ReceiptID:  uuid.New(),
		StorageKey: "user-1/receipt.png",
		UserID:     uuid.New(),
		Metadata:   map[string]string{"filename": "receipt.png", "source": "cli"},
		Reprocess:  true,
	}

	payload, err := job.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalJob(payload)
	require.NoError(t, err)
	assert.Equal(t, job, got)
}

func TestJobRoundTripMinimal(t *testing.T) {
	job := Job{ReceiptID: uuid.New(), StorageKey: "k", UserID: uuid.New()}

	payload, err := job.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalJob(payload)
	require.NoError(t, err)
	assert.Equal(t, job, got)
	assert.Nil(t, got.Metadata)
	assert.False(t, got.Reprocess)
}

func TestUnmarshalJobMalformed(t *testing.T) {
	_, err := UnmarshalJob([]byte("{not json"))
	require.Error(t, err)
}
