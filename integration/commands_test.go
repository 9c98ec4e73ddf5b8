//go:build integration

package integration_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvokeAndWaitTask(t *testing.T) {
	istat := initInfra(t, "invoke")
	defer istat.Close(t.Context())

	istat.PrepareController(t)
	istat.PrepareConfig(t)

	out, err := istat.Run(t, "invoke", "PowerOnVM_Task", "VirtualMachine:vm-7")
	require.NoError(t, err)
	assert.Contains(t, out, `"value": "task-12"`)

	out, err = istat.Run(t, "wait-task", "task-12", "--timeout", "5s")
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "success"`)
	assert.Contains(t, out, `"progress": 100`)
	assert.Contains(t, out, `"value": "vm-7"`)

	logins, logouts := istat.Controller.stats()
	assert.Equal(t, 2, logins)
	assert.Equal(t, 2, logouts)
}

func TestInvokeBadPassword(t *testing.T) {
	istat := initInfra(t, "badpassword")
	defer istat.Close(t.Context())

	istat.PrepareController(t)
	istat.Cfg.Credentials.Password.Value = "wrong"
	istat.PrepareConfig(t)

	_, err := istat.Run(t, "invoke", "PowerOnVM_Task", "VirtualMachine:vm-7")
	require.Error(t, err)

	logins, _ := istat.Controller.stats()
	assert.Zero(t, logins)
}

func TestSharedSession(t *testing.T) {
	istat := initInfra(t, "shared")
	defer istat.Close(t.Context())

	istat.PrepareController(t)
	istat.PrepareValKey(t)
	istat.Cfg.ValKey.Publish = true
	istat.PrepareConfig(t)

	out, err := istat.Run(t, "session", "check")
	require.NoError(t, err)
	assert.Contains(t, out, `"active": true`)

	// A second process picks up the published session.
	_, err = istat.Run(t, "invoke", "PowerOnVM_Task", "VirtualMachine:vm-7")
	require.NoError(t, err)

	logins, logouts := istat.Controller.stats()
	assert.Equal(t, 1, logins)
	assert.Zero(t, logouts)

	out, err = istat.Run(t, "session", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, `"loggedOut": true`)

	_, logouts = istat.Controller.stats()
	assert.Equal(t, 1, logouts)

	// Nothing is published any more, so a consumer-only process has no session.
	istat.Cfg.ValKey.Publish = false
	istat.Cfg.Session.UseExternal = true
	istat.PrepareConfig(t)

	_, err = istat.Run(t, "invoke", "PowerOnVM_Task", "VirtualMachine:vm-7")
	require.Error(t, err)

	logins, _ = istat.Controller.stats()
	assert.Equal(t, 1, logins)
}
