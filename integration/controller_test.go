//go:build integration

package integration_test

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

const (
	adminUser     = "administrator"
	adminPassword = "secret"
)

// controller answers the handful of calls the commands make.
type controller struct {
	mu      sync.Mutex
	logins  int
	logouts int
	calls   []string
	polls   int
}

func (c *controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	method := strings.TrimPrefix(r.URL.Path, "/sdk/")
	c.calls = append(c.calls, method)

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	w.Header().Set("Content-Type", "application/json")

	if method == "Login" {
		if body["userName"] != adminUser || body["password"] != adminPassword {
			fail(w, "InvalidLogin", "Cannot complete login due to an incorrect user name or password.")
			return
		}
		c.logins++
		_, _ = w.Write([]byte(`{"key":"5282e1b3-77c2-41d8-` + strconv.Itoa(c.logins) + `","userName":"` + adminUser + `"}`))
		return
	}

	if cookie, err := r.Cookie("vmware_soap_session"); err != nil || cookie.Value == "" {
		fail(w, "NotAuthenticated", "The session is not authenticated.")
		return
	}

	switch method {
	case "Logout":
		c.logouts++
	case "SessionIsActive":
		_, _ = w.Write([]byte(`true`))
	case "PowerOnVM_Task":
		_, _ = w.Write([]byte(`{"type":"Task","value":"task-12"}`))
	case "ReadProperty":
		c.polls++
		if c.polls < 3 {
			_, _ = w.Write([]byte(`{"key":"task-12","state":"running","progress":` + strconv.Itoa(c.polls*40) + `}`))
			return
		}
		_, _ = w.Write([]byte(`{"key":"task-12","state":"success","result":{"type":"VirtualMachine","value":"vm-7"}}`))
	default:
		fail(w, "MethodNotFound", "The method "+method+" is not supported.")
	}
}

func (c *controller) stats() (logins, logouts int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.logins, c.logouts
}

func fail(w http.ResponseWriter, name, msg string) {
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]any{"faults": []string{name}, "message": msg})
}
