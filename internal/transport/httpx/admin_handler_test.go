package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createPaidOrder(t *testing.T, e *env) orderResp {
	t.Helper()

	w := doJSON(t, e.router, http.MethodPost, "/api/checkout", checkoutBody(), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		OrderID string `json:"orderId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	hook := doJSON(t, e.router, http.MethodPost, "/api/payment/webhook", webhookBody(created.OrderID, "ACCEPTED"), nil)
	require.Equal(t, http.StatusOK, hook.Code)

	get := doJSON(t, e.router, http.MethodGet, "/admin/orders/"+created.OrderID, nil, nil)
	require.Equal(t, http.StatusOK, get.Code)
	var order orderResp
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &order))
	return order
}

func TestAdminCreateOrder_DecrementsImmediately(t *testing.T) {
	e := newEnv(t, nil, nil)

	w := doJSON(t, e.router, http.MethodPost, "/admin/orders", checkoutBody(), nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var order orderResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.Equal(t, "paid", order.Status)
	assert.True(t, order.StockUpdated)

	available, err := e.ledger.Available(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, int32(8), available)
}

func TestAdminGetOrder_ByNumber(t *testing.T) {
	e := newEnv(t, nil, nil)
	order := createPaidOrder(t, e)

	w := doJSON(t, e.router, http.MethodGet, "/admin/orders/"+order.OrderNumber, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resolved orderResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resolved))
	assert.Equal(t, order.ID, resolved.ID)
}

func TestAdminTransition_FullFulfilmentPath(t *testing.T) {
	e := newEnv(t, nil, nil)
	order := createPaidOrder(t, e)

	for _, status := range []string{"preparing", "ready", "in_transit", "delivered"} {
		w := doJSON(t, e.router, http.MethodPost, "/admin/orders/status", map[string]any{
			"orderId": order.ID,
			"status":  status,
		}, nil)
		require.Equal(t, http.StatusOK, w.Code, "transition to %s", status)
	}

	// Терминальный заказ отклоняет любые дальнейшие переходы.
	w := doJSON(t, e.router, http.MethodPost, "/admin/orders/status", map[string]any{
		"orderId": order.ID,
		"status":  "cancelled",
	}, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	var resp errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_transition", resp.Code)
}

func TestAdminTransition_OutsideGraph(t *testing.T) {
	e := newEnv(t, nil, nil)
	order := createPaidOrder(t, e)

	w := doJSON(t, e.router, http.MethodPost, "/admin/orders/status", map[string]any{
		"orderId": order.ID,
		"status":  "delivered",
	}, nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestAdminTransition_UnknownStatus(t *testing.T) {
	e := newEnv(t, nil, nil)
	order := createPaidOrder(t, e)

	w := doJSON(t, e.router, http.MethodPost, "/admin/orders/status", map[string]any{
		"orderId": order.ID,
		"status":  "teleported",
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminEdit_RecomputesTotalsAndDeltas(t *testing.T) {
	e := newEnv(t, nil, nil)
	order := createPaidOrder(t, e)

	w := doJSON(t, e.router, http.MethodPut, "/admin/orders/"+order.ID, map[string]any{
		"customerName":    order.CustomerName,
		"customerPhone":   order.CustomerPhone,
		"customerAddress": order.CustomerAddress,
		"shipping":        true,
		"items": []map[string]any{
			{"productId": "p-1", "quantity": 5},
		},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var edited orderResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &edited))
	assert.Equal(t, int64(5*45000), edited.TotalAmountMinor)

	// Было списано 2, дельта +3.
	available, err := e.ledger.Available(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, int32(5), available)
}

func TestAdminEdit_LockedAfterReady(t *testing.T) {
	e := newEnv(t, nil, nil)
	order := createPaidOrder(t, e)

	for _, status := range []string{"preparing", "ready"} {
		w := doJSON(t, e.router, http.MethodPost, "/admin/orders/status", map[string]any{
			"orderId": order.ID,
			"status":  status,
		}, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(t, e.router, http.MethodPut, "/admin/orders/"+order.ID, map[string]any{
		"customerName":    order.CustomerName,
		"customerPhone":   order.CustomerPhone,
		"customerAddress": order.CustomerAddress,
		"shipping":        true,
		"items": []map[string]any{
			{"productId": "p-1", "quantity": 1},
		},
	}, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	var resp errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "edit_locked", resp.Code)
}

func TestAdminCancel(t *testing.T) {
	e := newEnv(t, nil, nil)
	order := createPaidOrder(t, e)

	w := doJSON(t, e.router, http.MethodPost, "/admin/orders/"+order.ID+"/cancel", map[string]any{
		"reason": "клиент передумал",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var cancelled orderResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cancelled))
	assert.Equal(t, "cancelled", cancelled.Status)
}

func TestAdminTimeline(t *testing.T) {
	e := newEnv(t, nil, nil)
	order := createPaidOrder(t, e)

	w := doJSON(t, e.router, http.MethodGet, "/admin/orders/"+order.ID+"/timeline", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var events []timelineEventResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.NotEmpty(t, events)
	assert.Equal(t, "order.created", events[0].Type)
}

func TestAdminTransition_MissingRef(t *testing.T) {
	e := newEnv(t, nil, nil)

	w := doJSON(t, e.router, http.MethodPost, "/admin/orders/status", map[string]any{
		"status": "paid",
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
