package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	domain "github.com/R3E-Network/agentchat/internal/app/domain/market"
	"github.com/R3E-Network/agentchat/pkg/logger"
)

// Fetcher retrieves a fresh market snapshot.
type Fetcher interface {
	Fetch(ctx context.Context) ([]domain.Quote, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) ([]domain.Quote, error)

func (f FetcherFunc) Fetch(ctx context.Context) ([]domain.Quote, error) {
	if f == nil {
		return nil, nil
	}
	return f(ctx)
}

// FieldPaths locate quote fields in the upstream JSON using gjson syntax.
// Items selects the array of quotes; the other paths are relative to an item.
type FieldPaths struct {
	Items     string
	Symbol    string
	Name      string
	Price     string
	Change24h string
}

// DefaultFieldPaths matches a top-level array of market_data rows.
func DefaultFieldPaths() FieldPaths {
	return FieldPaths{
		Items:     "@this",
		Symbol:    "symbol",
		Name:      "name",
		Price:     "price",
		Change24h: "change_24h",
	}
}

func (p FieldPaths) withDefaults() FieldPaths {
	d := DefaultFieldPaths()
	if p.Items == "" {
		p.Items = d.Items
	}
	if p.Symbol == "" {
		p.Symbol = d.Symbol
	}
	if p.Name == "" {
		p.Name = d.Name
	}
	if p.Price == "" {
		p.Price = d.Price
	}
	if p.Change24h == "" {
		p.Change24h = d.Change24h
	}
	return p
}

// HTTPFetcher GETs a JSON document and extracts quotes from it.
type HTTPFetcher struct {
	client   *http.Client
	endpoint string
	key      string
	paths    FieldPaths
	log      *logger.Logger
}

// NewHTTPFetcher builds a fetcher for endpoint. key, when set, is sent as a
// bearer token.
func NewHTTPFetcher(client *http.Client, endpoint, key string, paths FieldPaths, log *logger.Logger) (*HTTPFetcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("market fetch endpoint is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.NewDefault("market-fetcher")
	}
	return &HTTPFetcher{
		client:   client,
		endpoint: endpoint,
		key:      key,
		paths:    paths.withDefaults(),
		log:      log,
	}, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context) ([]domain.Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if f.key != "" {
		req.Header.Set("Authorization", "Bearer "+f.key)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("market fetch returned status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("market fetch returned invalid json")
	}

	return f.extract(body)
}

func (f *HTTPFetcher) extract(body []byte) ([]domain.Quote, error) {
	items := gjson.GetBytes(body, f.paths.Items)
	if !items.IsArray() {
		return nil, fmt.Errorf("market fetch: %q is not an array", f.paths.Items)
	}

	var quotes []domain.Quote
	skipped := 0
	for _, item := range items.Array() {
		symbol := strings.TrimSpace(item.Get(f.paths.Symbol).String())
		price := item.Get(f.paths.Price)
		if symbol == "" || !price.Exists() {
			skipped++
			continue
		}
		quotes = append(quotes, domain.Quote{
			Symbol:    symbol,
			Name:      item.Get(f.paths.Name).String(),
			Price:     price.Float(),
			Change24h: item.Get(f.paths.Change24h).Float(),
		})
	}
	if skipped > 0 {
		f.log.WithField("skipped", skipped).Warn("market fetch skipped incomplete items")
	}
	return quotes, nil
}
