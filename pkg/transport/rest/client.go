// Package rest implements transport.Client as JSON over HTTP.
//
// Every call is a POST to {base}/sdk/{Method} whose body is the argument map
// plus the target reference under "_this". The session token travels in the
// vmware_soap_session cookie and the operation ID in the opID header.
package rest

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/openkcm/vmware-session/pkg/fault"
	"github.com/openkcm/vmware-session/pkg/transport"
)

const (
	SessionCookie = "vmware_soap_session"
	OpIDHeader    = "opID"

	targetKey = "_this"
)

var ErrInvalidCACert = errors.New("no certificates found in CA bundle")

// Options configures a Client.
type Options struct {
	Scheme            string
	Host              string
	Port              int
	Insecure          bool
	CACert            []byte
	PoolSize          int
	ConnectionTimeout time.Duration
	// HTTPClient replaces the client built from the options above.
	HTTPClient *http.Client
}

// Client talks to the controller endpoint.
type Client struct {
	base string
	http *http.Client
}

var _ transport.Client = (*Client)(nil)

// faultBody is what the endpoint sends back when a call is rejected.
type faultBody struct {
	Faults  []string          `json:"faults"`
	Message string            `json:"message"`
	Details map[string]string `json:"details"`
}

// New creates a Client for the endpoint described by opts.
func New(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		var err error
		httpClient, err = newHTTPClient(opts)
		if err != nil {
			return nil, err
		}
	}

	return &Client{
		base: BuildBaseURL(opts.Scheme, opts.Host, opts.Port),
		http: httpClient,
	}, nil
}

// BuildBaseURL returns scheme://host[:port], bracketing IPv6 literals.
func BuildBaseURL(scheme, host string, port int) string {
	if scheme == "" {
		scheme = "https"
	}

	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil && ip.To4() == nil {
		host = "[" + strings.Trim(host, "[]") + "]"
	}

	if port > 0 {
		host = host + ":" + strconv.Itoa(port)
	}

	return scheme + "://" + host
}

func newHTTPClient(opts Options) (*http.Client, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.Insecure, //nolint:gosec
	}

	if len(opts.CACert) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(opts.CACert) {
			return nil, ErrInvalidCACert
		}
		tlsConfig.RootCAs = pool
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = tlsConfig
	if opts.PoolSize > 0 {
		tr.MaxIdleConnsPerHost = opts.PoolSize
		tr.MaxConnsPerHost = opts.PoolSize
	}

	return &http.Client{
		Transport: tr,
		Timeout:   opts.ConnectionTimeout,
	}, nil
}

// Call performs one POST and maps the response onto a result or a fault.
func (c *Client) Call(ctx context.Context, token string, req transport.Request) (any, error) {
	body := make(map[string]any, len(req.Args)+1)
	for k, v := range req.Args {
		body[k] = v
	}
	if !req.Target.IsZero() {
		body[targetKey] = req.Target
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &fault.TransportError{Kind: fault.KindProtocol, Method: req.Method, Err: err}
	}

	endpoint := c.base + "/sdk/" + url.PathEscape(req.Method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &fault.TransportError{Kind: fault.KindProtocol, Method: req.Method, Err: err}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if req.OpID != "" {
		httpReq.Header.Set(OpIDHeader, req.OpID)
	}
	if token != "" {
		httpReq.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, wrapDoError(ctx, req.Method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &fault.TransportError{Kind: fault.KindConnection, Method: req.Method, Err: err}
	}

	return decodeResponse(req.Method, resp, data)
}

func wrapDoError(ctx context.Context, method string, err error) error {
	// The caller's own context ending is not a transport problem.
	if ctx.Err() != nil {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &fault.TransportError{Kind: fault.KindTimeout, Method: method, Err: err}
	}

	return &fault.TransportError{Kind: fault.KindConnection, Method: method, Err: err}
}

func decodeResponse(method string, resp *http.Response, data []byte) (any, error) {
	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, &fault.TransportError{
			Kind:   fault.KindOverload,
			Method: method,
			Err:    fmt.Errorf("endpoint returned %s", resp.Status),
		}
	}

	if len(bytes.TrimSpace(data)) > 0 && !isJSON(resp.Header.Get("Content-Type")) {
		return nil, &fault.TransportError{
			Kind:   fault.KindOverload,
			Method: method,
			Err:    fmt.Errorf("response is %q, not JSON", resp.Header.Get("Content-Type")),
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeFault(method, resp, data)
	}

	trimmed := bytes.TrimSpace(data)
	if method == transport.MethodRetrievePropertiesEx && isEmptyResult(trimmed) {
		// The endpoint answers an expired session with an empty property set.
		return nil, fault.New([]string{fault.NotAuthenticated}, "empty property result, session is not authenticated")
	}

	if len(trimmed) == 0 {
		return nil, nil
	}

	return json.RawMessage(trimmed), nil
}

func decodeFault(method string, resp *http.Response, data []byte) error {
	var fb faultBody
	if err := json.Unmarshal(data, &fb); err != nil || (len(fb.Faults) == 0 && fb.Message == "") {
		return &fault.TransportError{
			Kind:   fault.KindProtocol,
			Method: method,
			Err:    fmt.Errorf("endpoint returned %s", resp.Status),
		}
	}

	f := fault.New(fb.Faults, fb.Message)
	if len(fb.Details) > 0 {
		f = f.WithDetails(fb.Details)
	}

	return f
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return true
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func isEmptyResult(data []byte) bool {
	switch string(data) {
	case "", "null", "[]", "{}":
		return true
	default:
		return false
	}
}
