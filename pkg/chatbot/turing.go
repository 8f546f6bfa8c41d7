package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultTuringURL = "http://www.tuling123.com/openapi/api"

// Turing robot result codes.
const (
	turingText = 100000
	turingLink = 200000
	turingNews = 302000
	turingMenu = 308000
)

// TuringService talks to the Turing robot open API.
type TuringService struct {
	apiKey string
	url    string
	client *http.Client
}

func NewTuringService(apiKey, apiURL string, timeout time.Duration) *TuringService {
	if apiURL == "" {
		apiURL = defaultTuringURL
	}
	return &TuringService{
		apiKey: apiKey,
		url:    apiURL,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *TuringService) Name() string { return "turing" }

type turingRequest struct {
	Key    string `json:"key"`
	Info   string `json:"info"`
	UserID string `json:"userid,omitempty"`
}

type turingResponse struct {
	Code int    `json:"code"`
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Chat sends input to the robot. history is passed as the user id, which the
// service uses to keep conversational context.
func (s *TuringService) Chat(ctx context.Context, history, input string) (string, error) {
	body, err := json.Marshal(turingRequest{Key: s.apiKey, Info: input, UserID: history})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("turing: status %d", resp.StatusCode)
	}

	var result turingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("turing: decode response: %w", err)
	}

	switch result.Code {
	case turingText:
		return result.Text, nil
	case turingLink:
		return result.Text + " " + result.URL, nil
	case turingNews, turingMenu:
		// list replies are not rendered in group chat
		return result.Text, nil
	default:
		return "", fmt.Errorf("turing: code %d: %s", result.Code, result.Text)
	}
}
