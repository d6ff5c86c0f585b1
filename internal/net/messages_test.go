package net

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleipnir/internal/engine"
)

func TestParseEnvelopeTrade(t *testing.T) {
	raw := []byte(`{
		"event": "trade",
		"params": {
			"order_type": "LIMIT",
			"side": 1,
			"quantity": 2,
			"price": 2.002,
			"client_id": "abc"
		}
	}`)
	env, err := ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, EventTrade, env.Event)
	require.NotNil(t, env.Params)
	assert.Equal(t, "LIMIT", env.Params.OrderType)
	assert.Equal(t, engine.Bid, env.Params.side())
	assert.Equal(t, 2.002, env.Params.Price)
	assert.Equal(t, "abc", env.Params.ClientID)
}

func TestParseEnvelopeErrors(t *testing.T) {
	_, err := ParseEnvelope([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = ParseEnvelope([]byte(`{"params": {}}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestTradeParamsSide(t *testing.T) {
	assert.Equal(t, engine.Bid, (&TradeParams{Side: 1}).side())
	assert.Equal(t, engine.Ask, (&TradeParams{Side: -1}).side())
}

func TestBuildMessageRoundTrip(t *testing.T) {
	raw := BuildMessage(TopicQuotes, map[string]any{"ts": 1})
	env, err := ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, TopicQuotes, env.Event)

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 1.0, data["ts"])
}

func TestBuildError(t *testing.T) {
	env, err := ParseEnvelope(BuildError("boom"))
	require.NoError(t, err)
	assert.Equal(t, "error", env.Event)
	assert.Equal(t, "boom", env.Message)
}

func TestPubSubFanOut(t *testing.T) {
	ps := NewPubSub()
	first, cancelFirst := ps.Subscribe()
	second, cancelSecond := ps.Subscribe()
	defer cancelSecond()

	ps.Publish([]byte("hello"))
	assert.Equal(t, []byte("hello"), <-first)
	assert.Equal(t, []byte("hello"), <-second)

	cancelFirst()
	ps.Publish([]byte("again"))
	assert.Equal(t, []byte("again"), <-second)
	assert.Equal(t, 1, ps.Len())
	select {
	case <-first:
		t.Fatal("cancelled subscriber still receiving")
	default:
	}
}
