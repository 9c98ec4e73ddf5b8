//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"io/fs"
	"net"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/goccy/go-yaml"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/vmware-session/internal/config"
	"github.com/openkcm/vmware-session/internal/dbtest/valkeytest"
)

type closeFunc func(ctx context.Context)

type infraStat struct {
	ValKeyPort     nat.Port
	ConfigFilePath string
	Procdir        string
	Cfg            config.Config
	Controller     *controller

	closeFuncs []closeFunc
}

func initInfra(t *testing.T, name string) (istat infraStat) {
	t.Helper()

	// Since the config is read from the file $PWD/config.yaml,
	// every test runs the binary in its own subdirectory.
	wd, err := os.Getwd()
	require.NoError(t, err, "failed to get wd")
	istat.Procdir = filepath.Join(wd, name+"-test")
	istat.ConfigFilePath = filepath.Join(istat.Procdir, "config.yaml")

	err = os.MkdirAll(istat.Procdir, fs.ModePerm)
	require.NoError(t, err, "failed to create a dir for the process")

	err = os.WriteFile(istat.ConfigFilePath, []byte(validConfig), fs.ModePerm)
	require.NoError(t, err, "failed to write config file")

	err = commoncfg.LoadConfig(&istat.Cfg, nil, istat.Procdir)
	require.NoError(t, err, "failed to load config")

	istat.Cfg.Retry.BaseDelay = 10 * time.Millisecond
	istat.Cfg.Retry.MaxDelay = 100 * time.Millisecond
	istat.Cfg.TaskPoll.Interval = 10 * time.Millisecond
	istat.Cfg.TaskPoll.MaxInterval = 50 * time.Millisecond
	istat.Cfg.TaskPoll.Timeout = 10 * time.Second

	return istat
}

func (istat *infraStat) PrepareController(t *testing.T) {
	t.Helper()

	istat.Controller = &controller{}
	srv := httptest.NewServer(istat.Controller)
	istat.closeFuncs = append(istat.closeFuncs, func(context.Context) { srv.Close() })

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)

	istat.Cfg.Endpoint.Scheme = "http"
	istat.Cfg.Endpoint.Host = host
	istat.Cfg.Endpoint.Port, err = strconv.Atoi(port)
	require.NoError(t, err)

	istat.Cfg.Credentials.User = commoncfg.SourceRef{Source: "embedded", Value: adminUser}
	istat.Cfg.Credentials.Password = commoncfg.SourceRef{Source: "embedded", Value: adminPassword}
}

func (istat *infraStat) PrepareValKey(t *testing.T) {
	t.Helper()

	vkClient, vkPort, vkTerminate := valkeytest.Start(t.Context())
	vkClient.Close()

	istat.ValKeyPort = vkPort
	istat.closeFuncs = append(istat.closeFuncs, vkTerminate)

	istat.Cfg.ValKey.Enabled = true
	istat.Cfg.ValKey.Host = commoncfg.SourceRef{Source: "embedded", Value: net.JoinHostPort("localhost", vkPort.Port())}
	istat.Cfg.ValKey.User = commoncfg.SourceRef{Source: "embedded", Value: ""}
	istat.Cfg.ValKey.Password = commoncfg.SourceRef{Source: "embedded", Value: ""}
}

// PrepareConfig writes a config file for running the test into the ConfigFilePath.
func (istat *infraStat) PrepareConfig(t *testing.T) {
	t.Helper()

	dat, err := yaml.Marshal(istat.Cfg)
	require.NoError(t, err, "failed to encode config")

	err = os.WriteFile(istat.ConfigFilePath, dat, fs.ModePerm)
	require.NoError(t, err, "failed to write config")
}

// Run starts the binary in Procdir and returns what it printed on stdout.
func (istat *infraStat) Run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	wd, err := os.Getwd()
	require.NoError(t, err, "failed to get wd")

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, filepath.Join(wd, binary), args...)
	cmd.Dir = istat.Procdir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	t.Logf("%s %v\nstderr: %s", binary, args, stderr.String())

	return stdout.String(), err
}

func (istat *infraStat) Close(ctx context.Context) {
	os.Remove(istat.ConfigFilePath)
	os.RemoveAll(istat.Procdir)

	for _, close := range istat.closeFuncs {
		close(ctx)
	}
}
