package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(nil, "c", 0, nil)
	assert.True(t, IsKind(err, KindConnection))

	_, err = NewPublisher(newFakeStore(), "  ", 0, nil)
	assert.True(t, IsKind(err, KindConfig))
}

func TestPublish(t *testing.T) {
	st := newFakeStore()
	p, err := NewPublisher(st, "orders", 0, nil)
	require.NoError(t, err)

	id, err := p.Publish(context.Background(), "order.created", map[string]any{"foo": "bar"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	calls := st.appends()
	require.Len(t, calls, 1)
	assert.Equal(t, "orders", calls[0].stream)
	assert.Equal(t, int64(DefaultMaxLen), calls[0].maxLen)
	assert.Equal(t, "order.created", calls[0].values["action"])
	assert.JSONEq(t, `{"foo":"bar"}`, calls[0].values["data"].(string))
	assert.NotContains(t, calls[0].values, "group")
}

func TestPublish_RequiresAction(t *testing.T) {
	p, err := NewPublisher(newFakeStore(), "orders", 0, nil)
	require.NoError(t, err)

	_, err = p.Publish(context.Background(), "  ", nil)
	assert.True(t, IsKind(err, KindConfig))
}

func TestPublish_StoreErrorIsConnection(t *testing.T) {
	st := newFakeStore()
	st.appendErr["orders"] = assert.AnError

	p, err := NewPublisher(st, "orders", 100, nil)
	require.NoError(t, err)

	_, err = p.Publish(context.Background(), "x", nil)
	assert.True(t, IsKind(err, KindConnection))
	assert.ErrorIs(t, err, assert.AnError)
}
