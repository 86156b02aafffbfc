package swap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRate_NestedShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rate", r.URL.Path)
		assert.Equal(t, "from", r.URL.Query().Get("amountSide"))
		assert.Equal(t, "2", r.URL.Query().Get("amount"))
		w.Write([]byte(`{"rate":{"amountIn":2,"amountOut":5000,"minAmountOut":4500}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil, testLogger())
	amounts, err := client.Rate(context.Background(), RateParams{
		From:       "So11111111111111111111111111111111111111112",
		To:         "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Amount:     2,
		AmountSide: "from",
		Slippage:   10,
		Payer:      "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
	})
	require.NoError(t, err)
	assert.Equal(t, 2.0, amounts.AmountIn)
	assert.Equal(t, 5000.0, amounts.AmountOut)
	assert.Equal(t, 4500.0, amounts.MinAmountOut)
}

func TestRate_FlatShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"amountIn":1.5,"amountOut":3000,"minAmountOut":2700}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil, testLogger())
	amounts, err := client.Rate(context.Background(), RateParams{Amount: 1.5, AmountSide: "from"})
	require.NoError(t, err)
	assert.Equal(t, 1.5, amounts.AmountIn)
	assert.Equal(t, 3000.0, amounts.AmountOut)
}

func TestBuildSwap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "2", q.Get("fromAmount"))
		assert.Equal(t, "auto", q.Get("priorityFee"))
		assert.Equal(t, "medium", q.Get("priorityFeeLevel"))
		assert.Equal(t, "add", q.Get("feeType"))
		assert.Equal(t, "v0", q.Get("txVersion"))
		w.Write([]byte(`{"txn":"base64payload","rate":{"amountIn":2,"amountOut":5000},"type":"v0"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil, testLogger())
	result, err := client.BuildSwap(context.Background(), SwapParams{
		From:             "So11111111111111111111111111111111111111112",
		To:               "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		FromAmount:       2,
		Slippage:         10,
		Payer:            "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		PriorityFee:      "auto",
		PriorityFeeLevel: "medium",
	})
	require.NoError(t, err)
	assert.Equal(t, "base64payload", result.Txn)
	assert.Equal(t, "v0", result.Type)
	require.NotNil(t, result.Rate)
	assert.Equal(t, 5000.0, result.Rate.AmountOut)
}

func TestBuildSwap_MissingTxn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type":"v0"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil, testLogger())
	_, err := client.BuildSwap(context.Background(), SwapParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing transaction payload")
}

func TestAPIError_SurfacesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"no route"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil, testLogger())
	_, err := client.Rate(context.Background(), RateParams{})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "rate", apiErr.Endpoint)
	assert.Contains(t, apiErr.Body, "no route")
}
