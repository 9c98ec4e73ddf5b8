package rest_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/vmware-session/pkg/fault"
	"github.com/openkcm/vmware-session/pkg/transport"
	"github.com/openkcm/vmware-session/pkg/transport/rest"
)

func newClient(t *testing.T, srv *httptest.Server) *rest.Client {
	t.Helper()

	c, err := rest.New(rest.Options{HTTPClient: srv.Client()})
	require.NoError(t, err)

	return rest.NewWithBase(c, srv.URL)
}

func TestClient_CallSendsRequest(t *testing.T) {
	var (
		gotPath   string
		gotCookie string
		gotOpID   string
		gotBody   map[string]any
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotOpID = r.Header.Get(rest.OpIDHeader)
		if c, err := r.Cookie(rest.SessionCookie); err == nil {
			gotCookie = c.Value
		}

		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":"task-1"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv)

	result, err := c.Call(t.Context(), "session-key", transport.Request{
		Method: "PowerOnVM_Task",
		Target: transport.Ref{Type: "VirtualMachine", Value: "vm-42"},
		Args:   map[string]any{"host": "host-1"},
		OpID:   "op-123",
	})
	require.NoError(t, err)

	var out struct {
		Value string `json:"value"`
	}
	require.NoError(t, transport.Decode(result, &out))

	assert.Equal(t, "task-1", out.Value)
	assert.Equal(t, "/sdk/PowerOnVM_Task", gotPath)
	assert.Equal(t, "session-key", gotCookie)
	assert.Equal(t, "op-123", gotOpID)
	assert.Equal(t, "host-1", gotBody["host"])
	assert.Equal(t, map[string]any{"type": "VirtualMachine", "value": "vm-42"}, gotBody["_this"])
}

func TestClient_CallResponses(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		status      int
		contentType string
		body        string
		wantClass   fault.Class
		wantErr     bool
		wantResult  string
	}{
		{
			name:        "Success",
			method:      "ReadProperty",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `"running"`,
			wantResult:  `"running"`,
		},
		{
			name:        "EmptySuccess",
			method:      "Logout",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        "",
		},
		{
			name:        "NotAuthenticatedFault",
			method:      "ReadProperty",
			status:      http.StatusInternalServerError,
			contentType: "application/json",
			body:        `{"faults":["vim.fault.NotAuthenticated"],"message":"session gone"}`,
			wantErr:     true,
			wantClass:   fault.SessionInvalid,
		},
		{
			name:        "SecurityErrorFault",
			method:      "ReadProperty",
			status:      http.StatusInternalServerError,
			contentType: "application/json",
			body:        `{"faults":["SecurityError"],"message":"denied"}`,
			wantErr:     true,
			wantClass:   fault.SessionInvalid,
		},
		{
			name:        "FatalFault",
			method:      "DeleteDatastoreFile_Task",
			status:      http.StatusInternalServerError,
			contentType: "application/json",
			body:        `{"faults":["FileNotFound"],"message":"no such file","details":{"file":"x.vmdk"}}`,
			wantErr:     true,
			wantClass:   fault.Fatal,
		},
		{
			name:        "ServiceUnavailable",
			method:      "ReadProperty",
			status:      http.StatusServiceUnavailable,
			contentType: "text/plain",
			body:        "busy",
			wantErr:     true,
			wantClass:   fault.Retriable,
		},
		{
			name:        "HTMLBody",
			method:      "ReadProperty",
			status:      http.StatusOK,
			contentType: "text/html",
			body:        "<html>proxy error</html>",
			wantErr:     true,
			wantClass:   fault.Retriable,
		},
		{
			name:        "EmptyRetrieveProperties",
			method:      transport.MethodRetrievePropertiesEx,
			status:      http.StatusOK,
			contentType: "application/json",
			body:        "null",
			wantErr:     true,
			wantClass:   fault.SessionInvalid,
		},
		{
			name:        "UnparseableFault",
			method:      "ReadProperty",
			status:      http.StatusBadRequest,
			contentType: "application/json",
			body:        `{"unexpected":true}`,
			wantErr:     true,
			wantClass:   fault.Fatal,
		},
	}

	table := fault.DefaultTable()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newClient(t, srv)

			result, err := c.Call(t.Context(), "key", transport.Request{Method: tt.method})
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantClass, table.Classify(err))
				return
			}

			require.NoError(t, err)
			if tt.wantResult == "" {
				assert.Nil(t, result)
				return
			}
			assert.JSONEq(t, tt.wantResult, string(result.(json.RawMessage)))
		})
	}
}

func TestClient_CallConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := newClient(t, srv)
	srv.Close()

	_, err := c.Call(t.Context(), "", transport.Request{Method: "Login"})
	require.Error(t, err)
	assert.True(t, fault.IsTransport(err, fault.KindConnection))
	assert.Equal(t, fault.Retriable, fault.DefaultTable().Classify(err))
}

func TestBuildBaseURL(t *testing.T) {
	tests := []struct {
		name   string
		scheme string
		host   string
		port   int
		want   string
	}{
		{name: "Hostname", scheme: "https", host: "vc.example.com", want: "https://vc.example.com"},
		{name: "DefaultScheme", host: "vc.example.com", port: 443, want: "https://vc.example.com:443"},
		{name: "IPv4", scheme: "http", host: "10.0.0.1", port: 8080, want: "http://10.0.0.1:8080"},
		{name: "IPv6", scheme: "https", host: "fd00::1", port: 443, want: "https://[fd00::1]:443"},
		{name: "IPv6Bracketed", scheme: "https", host: "[fd00::1]", want: "https://[fd00::1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rest.BuildBaseURL(tt.scheme, tt.host, tt.port))
		})
	}
}

func TestNew_InvalidCACert(t *testing.T) {
	_, err := rest.New(rest.Options{Host: "vc", CACert: []byte("not a pem")})
	assert.ErrorIs(t, err, rest.ErrInvalidCACert)
}
