package orders

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	outbox "github.com/velmie/txoutbox"
)

func TestNewRaisesOrderCreated(t *testing.T) {
	order, err := New("42", "")
	require.NoError(t, err)

	events := order.PendingEvents()
	require.Len(t, events, 1)
	require.Equal(t, OrderCreated{OrderID: "42"}, events[0])

	payload, err := json.Marshal(events[0])
	require.NoError(t, err)
	require.JSONEq(t, `{"orderId":"42"}`, string(payload))
}

func TestNewRequiresID(t *testing.T) {
	_, err := New("", "alice")
	require.ErrorIs(t, err, ErrOrderIDRequired)
}

func TestCancel(t *testing.T) {
	order, err := New("1", "alice")
	require.NoError(t, err)
	order.ClearEvents()

	require.NoError(t, order.Cancel("out of stock"))
	require.Equal(t, StatusCancelled, order.Status)
	require.Equal(t, []outbox.Event{OrderCancelled{OrderID: "1", Reason: "out of stock"}}, order.PendingEvents())

	require.ErrorIs(t, order.Cancel("again"), ErrAlreadyCancelled)
}

func TestRegisterEvents(t *testing.T) {
	reg := outbox.NewRegistry()
	require.NoError(t, RegisterEvents(reg))
	require.Equal(t, []string{"OrderCancelled", "OrderCreated"}, reg.Keys())

	event, err := reg.Decode("OrderCreated", json.RawMessage(`{"orderId":"42"}`))
	require.NoError(t, err)
	require.Equal(t, OrderCreated{OrderID: "42"}, event)

	require.Error(t, RegisterEvents(reg))
}
