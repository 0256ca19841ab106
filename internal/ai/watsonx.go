package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultModelID = "ibm/granite-3-2b-instruct"

	generationPath    = "/ml/v1/text/generation?version=2024-05-01"
	tokenPath         = "/identity/token"
	tokenTimeout      = 10 * time.Second
	generationTimeout = 60 * time.Second
)

// Client talks to the watsonx.ai text generation service. Every Generate
// call acquires a fresh IAM token; there is no caching and no retry, so a
// failed call fails the turn.
type Client struct {
	BaseURL   string
	IAMURL    string
	APIKey    string
	ProjectID string
	HTTP      *http.Client
}

// NewClient builds a client whose transport is pinned to IPv4 and optionally
// routed through proxyURL. Per-call deadlines come from request contexts,
// not a global client timeout.
func NewClient(baseURL, iamURL, apiKey, projectID, proxyURL string) (*Client, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp4", addr)
		},
	}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		IAMURL:    strings.TrimRight(iamURL, "/"),
		APIKey:    apiKey,
		ProjectID: projectID,
		HTTP:      &http.Client{Transport: transport},
	}, nil
}

type tokenResp struct {
	AccessToken string `json:"access_token"`
}

// AcquireToken exchanges the service API key for a short-lived IAM bearer
// token. Also used as the health-check probe.
func (c *Client) AcquireToken(ctx context.Context) (string, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return "", &GenerationError{Op: "token", Msg: "api key is required"}
	}

	tctx, cancel := context.WithTimeout(ctx, tokenTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("grant_type", "urn:ibm:params:oauth:grant-type:apikey")
	form.Set("apikey", c.APIKey)

	req, err := http.NewRequestWithContext(tctx, http.MethodPost, c.IAMURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &GenerationError{Op: "token", Msg: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", classifyTransportErr("token", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &GenerationError{Op: "token", Status: resp.StatusCode, Msg: readErrBody(resp.Body)}
	}

	var decoded tokenResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", &GenerationError{Op: "token", Msg: err.Error()}
	}
	if decoded.AccessToken == "" {
		return "", &GenerationError{Op: "token", Msg: "empty access token"}
	}
	return decoded.AccessToken, nil
}

type GenerateRequest struct {
	Prompt        string
	ModelID       string
	MaxNewTokens  int
	StopSequences []string
	Temperature   float64
}

type generationParams struct {
	MaxNewTokens   int      `json:"max_new_tokens"`
	StopSequences  []string `json:"stop_sequences,omitempty"`
	Temperature    float64  `json:"temperature"`
	DecodingMethod string   `json:"decoding_method"`
}

type generationReq struct {
	ModelID    string           `json:"model_id"`
	Input      string           `json:"input"`
	Parameters generationParams `json:"parameters"`
	ProjectID  string           `json:"project_id"`
}

type generationResp struct {
	Results []struct {
		GeneratedText string `json:"generated_text"`
	} `json:"results"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

// Generate runs one text-generation call.
func (c *Client) Generate(ctx context.Context, greq GenerateRequest) (string, error) {
	token, err := c.AcquireToken(ctx)
	if err != nil {
		return "", err
	}

	model := greq.ModelID
	if model == "" {
		model = DefaultModelID
	}
	maxTokens := greq.MaxNewTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	decoding := "sample"
	if greq.Temperature == 0 {
		decoding = "greedy"
	}

	body, err := json.Marshal(generationReq{
		ModelID: model,
		Input:   greq.Prompt,
		Parameters: generationParams{
			MaxNewTokens:   maxTokens,
			StopSequences:  greq.StopSequences,
			Temperature:    greq.Temperature,
			DecodingMethod: decoding,
		},
		ProjectID: c.ProjectID,
	})
	if err != nil {
		return "", &GenerationError{Op: "generate", Msg: err.Error()}
	}

	gctx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(gctx, http.MethodPost, c.BaseURL+generationPath, bytes.NewReader(body))
	if err != nil {
		return "", &GenerationError{Op: "generate", Msg: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", classifyTransportErr("generate", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &GenerationError{Op: "generate", Status: resp.StatusCode, Msg: readErrBody(resp.Body)}
	}

	var decoded generationResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", &GenerationError{Op: "generate", Msg: err.Error()}
	}
	if len(decoded.Errors) > 0 && decoded.Errors[0].Message != "" {
		return "", &GenerationError{Op: "generate", Msg: decoded.Errors[0].Message}
	}
	if len(decoded.Results) == 0 {
		return "", &GenerationError{Op: "generate", Msg: "empty results"}
	}
	return decoded.Results[0].GeneratedText, nil
}

// classifyTransportErr separates DNS/connectivity failures from everything
// else so the API layer can answer 503 instead of 502.
func classifyTransportErr(op string, err error) error {
	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) {
		return &NetworkError{Op: op, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &NetworkError{Op: op, Err: err}
	}
	return &GenerationError{Op: op, Msg: err.Error()}
}

func readErrBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4*1024))
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		return "no error body"
	}
	return msg
}
