package pubsub

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishMarshalsPayload(t *testing.T) {
	t.Parallel()

	var (
		gotTopic string
		gotMsg   *pubsub.Message
	)
	p := &Publisher{send: func(_ context.Context, topic string, msg *pubsub.Message) (string, error) {
		gotTopic = topic
		gotMsg = msg
		return "msg-1", nil
	}}

	id, err := p.Publish(context.Background(), "catalog-roots", map[string]int{"records": 3})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, "catalog-roots", gotTopic)
	assert.JSONEq(t, `{"records":3}`, string(gotMsg.Data))
	assert.Equal(t, "application/json", gotMsg.Attributes["content_type"])
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	_, err := (&Publisher{}).Publish(context.Background(), "t", "x")
	require.Error(t, err)

	p := &Publisher{send: func(context.Context, string, *pubsub.Message) (string, error) {
		return "", errors.New("unavailable")
	}}
	_, err = p.Publish(context.Background(), "", "x")
	require.Error(t, err)
	_, err = p.Publish(context.Background(), "t", "x")
	require.ErrorContains(t, err, "unavailable")
	_, err = p.Publish(context.Background(), "t", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}
