package mongodb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/rdehuyss/oxalis/internal/storage"
)

func TestFilterQuery(t *testing.T) {
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, bson.M{}, filterQuery(nil))
	assert.Equal(t, bson.M{
		"receiver":   "iso6523-actorid-upis::9908:810418052",
		"status":     storage.StatusFailed,
		"created_at": bson.M{"$gte": since},
	}, filterQuery(&storage.TransmissionFilter{
		Receiver: "iso6523-actorid-upis::9908:810418052",
		Status:   storage.StatusFailed,
		Since:    &since,
	}))
}

func TestFindOptions(t *testing.T) {
	opts := findOptions(&storage.TransmissionFilter{Limit: 20, Offset: 40})
	require.NotNil(t, opts.Limit)
	require.NotNil(t, opts.Skip)
	assert.Equal(t, int64(20), *opts.Limit)
	assert.Equal(t, int64(40), *opts.Skip)

	opts = findOptions(nil)
	assert.Nil(t, opts.Limit)
	assert.Nil(t, opts.Skip)
}

// TestStoreRoundTrip runs against a live server named by OXALIS_TEST_MONGODB_URI.
func TestStoreRoundTrip(t *testing.T) {
	uri := os.Getenv("OXALIS_TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("OXALIS_TEST_MONGODB_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := NewStore(ctx, &Config{URI: uri, Database: "oxalis_test", Collection: "transmissions_" + time.Now().Format("150405")})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.transmissions.Drop(context.Background())
		_ = s.Close(context.Background())
	})

	require.NoError(t, s.Ping(ctx))

	rec := &storage.TransmissionRecord{
		MessageID: "a3d9b0b2-3a47-4bd3-a1f8-1c1a2f8f2e10",
		Sender:    "iso6523-actorid-upis::9908:810017902",
		Receiver:  "iso6523-actorid-upis::9908:810418052",
		Status:    storage.StatusPrepared,
	}
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, rec.MessageID)
	require.NoError(t, err)
	assert.Equal(t, rec.Receiver, got.Receiver)

	require.NoError(t, s.UpdateStatus(ctx, rec.MessageID, storage.StatusTransmitted, ""))
	list, err := s.List(ctx, &storage.TransmissionFilter{Status: storage.StatusTransmitted})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.MessageID, list[0].MessageID)

	_, err = s.Get(ctx, "absent")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.UpdateStatus(ctx, "absent", storage.StatusFailed, "x"), storage.ErrNotFound)
}
