package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
	"github.com/JakeFAU/pnrr-announcements/internal/publisher"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublishWritesKeyedMessage(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	pub := newWithWriter(w)
	at := time.Date(2024, 1, 10, 6, 0, 0, 0, time.UTC)
	pub.now = func() time.Time { return at }

	evt := publisher.NewCreated("run-1", announcement.Announcement{SchoolID: "a", Link: "https://a.it/1"}, at)
	id, err := pub.Publish(context.Background(), "announcements", evt)
	require.NoError(t, err)
	require.Equal(t, "announcements/a|https://a.it/1", id)

	require.Len(t, w.msgs, 1)
	require.Equal(t, "announcements", w.msgs[0].Topic)
	require.Equal(t, []byte("a|https://a.it/1"), w.msgs[0].Key)
	require.Equal(t, at, w.msgs[0].Time)

	var got publisher.Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	require.Equal(t, publisher.EventCreated, got.Type)

	require.NoError(t, pub.Close())
	require.True(t, w.closed)
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	pub := newWithWriter(&fakeWriter{err: errors.New("leader not available")})
	_, err := pub.Publish(context.Background(), "announcements", "x")
	require.ErrorContains(t, err, "leader not available")

	_, err = pub.Publish(context.Background(), "", "x")
	require.Error(t, err)

	_, err = New(Config{})
	require.Error(t, err)
}
