package optimizer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/optimize", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ACC1", req.AccountID)
		assert.ElementsMatch(t, []string{"AAPL", "VWCE"}, req.Securities)

		_ = json.NewEncoder(w).Encode(Result{
			Weights:   map[string]float64{"AAPL": 0.3, "VWCE": 0.7},
			Feasible:  true,
			Objective: "max_sharpe",
			Score:     1.42,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, zerolog.Nop())
	result, err := client.Optimize(context.Background(), Request{
		AccountID:  "ACC1",
		Securities: []string{"AAPL", "VWCE"},
		Returns:    map[string][]float64{"AAPL": {0.01}, "VWCE": {0.02}},
	})
	require.NoError(t, err)
	assert.True(t, result.Feasible)
	assert.InDelta(t, 0.3, result.Weights["AAPL"], 1e-12)
	assert.InDelta(t, 0.7, result.Weights["VWCE"], 1e-12)
}

func TestOptimizeInfeasibleFlagSurvives(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Result{
			Weights:  map[string]float64{"AAPL": 1.0},
			Feasible: false,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, zerolog.Nop())
	result, err := client.Optimize(context.Background(), Request{
		AccountID:  "ACC1",
		Securities: []string{"AAPL"},
	})
	require.NoError(t, err)
	assert.False(t, result.Feasible)
}

func TestOptimizeRejectsEmptyUniverse(t *testing.T) {
	client := NewClient("http://localhost", time.Second, zerolog.Nop())
	_, err := client.Optimize(context.Background(), Request{AccountID: "ACC1"})
	assert.Error(t, err)
}

func TestOptimizeSurfacesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, zerolog.Nop())
	_, err := client.Optimize(context.Background(), Request{
		AccountID:  "ACC1",
		Securities: []string{"AAPL"},
	})
	assert.Error(t, err)
}

func TestOptimizeTimeoutPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects the client disconnect and
		// cancels the request context; otherwise this handler never returns.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Optimize(ctx, Request{
		AccountID:  "ACC1",
		Securities: []string{"AAPL"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
