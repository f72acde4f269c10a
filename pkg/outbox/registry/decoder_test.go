package registry

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchly/dispatchly-backend/pkg/enums"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox/payloads"
)

func TestDecoderRegistryVersions(t *testing.T) {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventDeliveryValidated, 1, func(payload json.RawMessage) (any, error) {
		var decoded map[string]string
		err := json.Unmarshal(payload, &decoded)
		return decoded, err
	})

	out, err := reg.Decode(enums.EventDeliveryValidated, 1, json.RawMessage(`{"delivery_id":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"delivery_id": "abc"}, out)

	_, err = reg.Decode(enums.EventDeliveryValidated, 2, json.RawMessage(`{}`))
	assert.ErrorContains(t, err, "@v2")
}

func TestDecoderRegistryFromEvents(t *testing.T) {
	reg := NewDecoderRegistryFromEvents(newTestEventRegistry(t))
	orderID := uuid.New()

	out, err := reg.Decode(enums.EventDeliveryCodesReady, 1, mustMarshal(t, payloads.DeliveryCodesReadyEvent{
		OrderID:     orderID,
		DeliveryIDs: []uuid.UUID{uuid.New(), uuid.New()},
	}))
	require.NoError(t, err)
	ready, ok := out.(*payloads.DeliveryCodesReadyEvent)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, orderID, ready.OrderID)
	assert.Len(t, ready.DeliveryIDs, 2)

	_, err = reg.Decode(enums.EventCreditsExtended, 1, json.RawMessage(`{"user_id":`))
	assert.Error(t, err)

	assert.NotNil(t, NewDecoderRegistryFromEvents(nil))
}
