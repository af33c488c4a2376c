package whttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

type WHTTPHeader struct {
	Name  string
	Value string
}

type WHTTPReq struct {
	URL     string
	Method  string
	Headers []WHTTPHeader
	Body    []byte
}

type WHTTPRes struct {
	StatusCode     int
	ResponseLength int
	BodyString     string
}

var defaultClient = NewClient(3)

// NewClient returns a retrying client that waits between 1 and 8 seconds
// before retrying connection errors, 429s and 5xx responses.
func NewClient(retryMax int) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.Logger = log.New(io.Discard, "", 0)
	c.RetryMax = retryMax
	c.RetryWaitMin = 1 * time.Second
	c.RetryWaitMax = 8 * time.Second
	c.HTTPClient.Timeout = 30 * time.Second
	return c
}

// Default returns the shared client configured by SetupProxy.
func Default() *retryablehttp.Client { return defaultClient }

// SetupProxy routes the default client through proxy.
func SetupProxy(proxy string) error {
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %v", err)
	}
	defaultClient.HTTPClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	return nil
}

// SendHTTPRequest performs wReq with client, or with the default client when nil.
func SendHTTPRequest(ctx context.Context, wReq *WHTTPReq, client *retryablehttp.Client) (*WHTTPRes, error) {
	if client == nil {
		client = defaultClient
	}

	var body interface{}
	if wReq.Body != nil {
		body = bytes.NewReader(wReq.Body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, wReq.Method, wReq.URL, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", "emvscope")
	req.Header.Set("Accept", "application/json")
	for _, h := range wReq.Headers {
		req.Header.Add(h.Name, h.Value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &WHTTPRes{
		StatusCode:     resp.StatusCode,
		ResponseLength: len(bodyBytes),
		BodyString:     strings.ToValidUTF8(string(bodyBytes), ""),
	}, nil
}
