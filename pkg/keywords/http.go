package keywords

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// HTTPSource fetches keywords from a tag API. The response is a JSON list
// or an object with a "keywords" list. With a token URL configured, requests
// carry an OAuth2 client-credentials bearer token.
type HTTPSource struct {
	url    string
	client *http.Client
}

type HTTPOptions struct {
	URL          string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

func NewHTTPSource(opts HTTPOptions) *HTTPSource {
	base := &http.Client{Timeout: opts.Timeout}
	client := base
	if opts.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.TokenURL,
			Scopes:       opts.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = cc.Client(ctx)
		client.Timeout = opts.Timeout
	}
	return &HTTPSource{url: opts.URL, client: client}
}

func (s *HTTPSource) Name() string { return "http" }

func (s *HTTPSource) Fetch(ctx context.Context, limit int) ([]Keyword, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return nil, fmt.Errorf("keywords: bad url: %w", err)
	}
	if limit > 0 {
		q := u.Query()
		q.Set("limit", strconv.Itoa(limit))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keywords: %s returned %d: %s", u.Redacted(), resp.StatusCode, bytes.TrimSpace(body))
	}

	kws, err := decodeKeywordList(body)
	if err != nil {
		return nil, fmt.Errorf("keywords: decode response: %w", err)
	}
	return truncate(kws, limit), nil
}

func decodeKeywordList(body []byte) ([]Keyword, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		var wrapped struct {
			Keywords []Keyword `json:"keywords"`
		}
		err := json.Unmarshal(body, &wrapped)
		return wrapped.Keywords, err
	}
	var kws []Keyword
	err := json.Unmarshal(body, &kws)
	return kws, err
}
