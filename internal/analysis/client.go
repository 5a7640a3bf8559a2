// Package analysis клиент внешнего сервиса аналитики рынка. Бот не
// интерпретирует результат, а только передаёт его пользователю.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Result результат анализа инструмента.
type Result struct {
	Symbol         string  `json:"symbol"`
	Price          float64 `json:"price"`
	Bias           string  `json:"bias"`
	Interpretation string  `json:"interpretation"`
	// ChartURL ссылка на график, может быть пустой.
	ChartURL string `json:"chart_url,omitempty"`
}

type newsResponse struct {
	Text string `json:"text"`
}

// Client HTTP-клиент сервиса аналитики.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент сервиса аналитики.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Analyze запрашивает анализ инструмента symbol.
func (c *Client) Analyze(ctx context.Context, symbol string) (*Result, error) {
	const op = "analysis.Analyze"

	var result Result
	if err := c.get(ctx, "/analysis/"+url.PathEscape(strings.ToUpper(symbol)), &result); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if result.Symbol == "" {
		result.Symbol = strings.ToUpper(symbol)
	}
	return &result, nil
}

// News запрашивает готовую сводку новостей рынка.
func (c *Client) News(ctx context.Context) (string, error) {
	const op = "analysis.News"

	var resp newsResponse
	if err := c.get(ctx, "/news", &resp); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if resp.Text == "" {
		return "", fmt.Errorf("%s: %w", op, errors.New("empty news digest"))
	}
	return resp.Text, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New("unexpected status: " + resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Format превращает результат в текст сообщения в Markdown.
func Format(r *Result) string {
	var b strings.Builder
	b.WriteString("📊 *")
	b.WriteString(r.Symbol)
	b.WriteString("*\n")
	b.WriteString("Price: `")
	b.WriteString(strconv.FormatFloat(r.Price, 'f', -1, 64))
	b.WriteString("`\n")
	b.WriteString("Bias: *")
	b.WriteString(r.Bias)
	b.WriteString("*\n\n")
	b.WriteString(r.Interpretation)
	return b.String()
}
