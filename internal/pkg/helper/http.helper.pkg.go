package helper

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"storefront-checkout/internal/pkg/logger"
)

type HTTPMethod string

const (
	GET    HTTPMethod = http.MethodGet
	POST   HTTPMethod = http.MethodPost
	PUT    HTTPMethod = http.MethodPut
	PATCH  HTTPMethod = http.MethodPatch
	DELETE HTTPMethod = http.MethodDelete
)

func (m HTTPMethod) ToString() string {
	return string(m)
}

// HTTPClientConfig tunes the outbound transport.
type HTTPClientConfig struct {
	ProxyURL       string
	SkipTLSVerify  bool
	RequestTimeout time.Duration
}

type HTTPRequestPayload struct {
	Method HTTPMethod
	URL    string
	Params map[string]string
	Body   any
}

type HTTPRequestConfig struct {
	Ctx     context.Context
	Headers http.Header
}

type HTTPAPIResponse struct {
	StatusCode int
	Headers    http.Header
	Data       map[string]any
	Raw        []byte
}

// IsSuccess reports a 2xx status.
func (r *HTTPAPIResponse) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

type HTTPClient struct {
	Client *http.Client
	Config *HTTPClientConfig
}

func NewHTTPClient(cfg *HTTPClientConfig) *HTTPClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.SkipTLSVerify,
		},
	}

	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			logger.Error.Printf("Invalid proxy URL: %v", err)
		} else {
			transport.Proxy = http.ProxyURL(proxyURL)
			logger.Debug.Printf("Using proxy: %s", cfg.ProxyURL)
		}
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPClient{
		Client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		Config: cfg,
	}
}

// Request performs one JSON round trip. Non-2xx responses are not errors;
// callers inspect StatusCode.
func (c *HTTPClient) Request(payload *HTTPRequestPayload, config *HTTPRequestConfig) (*HTTPAPIResponse, error) {
	body, err := encodeRequestBody(payload.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	ctx := config.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, payload.Method.ToString(), payload.URL, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	if payload.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range config.Headers {
		req.Header[key] = append([]string(nil), values...)
	}

	if len(payload.Params) > 0 {
		q := req.URL.Query()
		for key, value := range payload.Params {
			q.Add(key, value)
		}
		req.URL.RawQuery = q.Encode()
	}

	logger.Debug.Printf("%s %s", req.Method, req.URL.String())

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	result := &HTTPAPIResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Raw:        raw,
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err == nil {
			result.Data = data
		}
	}

	logger.Debug.Printf("%s %s -> %d", req.Method, req.URL.String(), resp.StatusCode)
	return result, nil
}

func encodeRequestBody(body any) (io.Reader, error) {
	if body == nil {
		return nil, nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}
