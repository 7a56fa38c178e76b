package opsserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbbot/goarb/internal/domain"
	"github.com/arbbot/goarb/internal/engine"
)

type fakeProvider struct{}

func (fakeProvider) Snapshot() engine.Status {
	return engine.Status{
		Position: domain.Position{
			Side:     domain.PositionLong,
			Quantity: decimal.NewFromFloat(0.5),
		},
		Cycles: 42,
	}
}

func TestHealthz(t *testing.T) {
	s := New("127.0.0.1:0", fakeProvider{})
	w := httptest.NewRecorder()
	s.router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusEndpoint(t *testing.T) {
	s := New("127.0.0.1:0", fakeProvider{})
	w := httptest.NewRecorder()
	s.router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Uptime string `json:"uptime"`
		Engine struct {
			Position struct {
				Side     string `json:"Side"`
				Quantity string `json:"Quantity"`
			} `json:"position"`
			Cycles uint64 `json:"cycles"`
		} `json:"engine"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "long", body.Engine.Position.Side)
	assert.Equal(t, "0.5", body.Engine.Position.Quantity)
	assert.Equal(t, uint64(42), body.Engine.Cycles)
	assert.NotEmpty(t, body.Uptime)
}
