package dispatch

import (
	"context"
	"crypto/tls"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/buger/gorshift/accesslog"
)

const maxRedirects = 10

type HTTPSenderConfig struct {
	Timeout            time.Duration
	FollowRedirects    bool
	InsecureSkipVerify bool
	// Send the recorded Host header instead of the URL host
	OriginalHost bool
}

// HTTPSender is the default Sender, backed by one shared http.Client.
type HTTPSender struct {
	client *http.Client
	config *HTTPSenderConfig
}

func NewHTTPSender(config *HTTPSenderConfig) *HTTPSender {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &HTTPSender{
		config: config,
		client: &http.Client{
			Timeout:       config.Timeout,
			Transport:     transport,
			CheckRedirect: checkRedirect(config.FollowRedirects),
		},
	}
}

// checkRedirect disables redirects unless asked otherwise. A redirect is
// reported as the 3xx response itself, not as an error.
func checkRedirect(follow bool) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if !follow || len(via) >= maxRedirects {
			return http.ErrUseLastResponse
		}
		return nil
	}
}

func (s *HTTPSender) Send(ctx context.Context, rec accesslog.Record) (*Response, error) {
	var body io.Reader
	if rec.Body != "" {
		body = strings.NewReader(rec.Body)
	}

	target := rec.URL.String()

	req, err := http.NewRequestWithContext(ctx, rec.Method, target, body)
	if err != nil {
		return nil, &TransportError{Method: rec.Method, URL: target, Err: err}
	}

	for name, value := range rec.Header {
		if s.config.OriginalHost && strings.EqualFold(name, "Host") {
			req.Host = value
			continue
		}
		req.Header.Set(name, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &TransportError{Method: rec.Method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	n, err := io.Copy(ioutil.Discard, resp.Body)
	if err != nil {
		return nil, &TransportError{Method: rec.Method, URL: target, Err: err}
	}

	length := resp.ContentLength
	if length < 0 {
		length = n
	}

	return &Response{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Proto:         resp.Proto,
		ContentLength: length,
		Header:        resp.Header,
	}, nil
}
