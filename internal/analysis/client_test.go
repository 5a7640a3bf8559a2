package analysis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	r := chi.NewRouter()
	r.Get("/analysis/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		symbol := chi.URLParam(r, "symbol")
		if symbol == "BROKEN" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		render.JSON(w, r, map[string]any{
			"symbol":         symbol,
			"price":          1.0832,
			"bias":           "Bullish",
			"interpretation": "Buyers in control above 1.08.",
			"chart_url":      "https://charts.example/" + symbol + ".png",
		})
	})
	r.Get("/news", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"text": "📰 Fed holds rates."})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Analyze(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL+"/", time.Second)

	res, err := c.Analyze(context.Background(), "eurusd")
	require.NoError(t, err)
	assert.Equal(t, "EURUSD", res.Symbol)
	assert.Equal(t, 1.0832, res.Price)
	assert.Equal(t, "Bullish", res.Bias)
	assert.Equal(t, "https://charts.example/EURUSD.png", res.ChartURL)
}

func TestClient_AnalyzeBadStatus(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, time.Second)

	_, err := c.Analyze(context.Background(), "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestClient_News(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, time.Second)

	text, err := c.News(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "📰 Fed holds rates.", text)
}

func TestClient_Unreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 200*time.Millisecond)

	_, err := c.News(context.Background())
	require.Error(t, err)
}

func TestFormat(t *testing.T) {
	out := Format(&Result{Symbol: "XAUUSD", Price: 2350.5, Bias: "Bearish", Interpretation: "Sellers defend 2360."})

	assert.Contains(t, out, "*XAUUSD*")
	assert.Contains(t, out, "`2350.5`")
	assert.Contains(t, out, "Bias: *Bearish*")
	assert.Contains(t, out, "Sellers defend 2360.")
}
