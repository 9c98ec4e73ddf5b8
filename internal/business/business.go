package business

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/vmware-session/internal/config"
	"github.com/openkcm/vmware-session/pkg/client"
	"github.com/openkcm/vmware-session/pkg/fault"
	"github.com/openkcm/vmware-session/pkg/invoke"
	"github.com/openkcm/vmware-session/pkg/session"
	sessionvalkey "github.com/openkcm/vmware-session/pkg/session/valkey"
	"github.com/openkcm/vmware-session/pkg/transport/rest"
)

var ErrNoSessionSource = errors.New("external session needs a key or a valkey store")

// NewClient builds the controller client described by cfg. closeFn logs out
// unless the session is shared with other processes, and releases the valkey
// connection.
func NewClient(ctx context.Context, cfg *config.Config) (_ *client.Client, closeFn func(context.Context), _ error) {
	tr, err := transportFromConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating transport: %w", err)
	}

	// An external session never logs in, the credential authenticator then
	// only answers liveness checks.
	var creds session.Credentials
	if !cfg.Session.UseExternal {
		creds, err = config.LoadCredentials(cfg.Credentials)
		if err != nil {
			return nil, nil, err
		}
	}
	credAuth := session.NewCredentialAuthenticator(tr, creds)

	var valkeyClient valkey.Client
	if cfg.ValKey.Enabled {
		valkeyClient, err = valkeyClientFromConfig(cfg)
		if err != nil {
			return nil, nil, err
		}
	}
	release := func() {
		if valkeyClient != nil {
			valkeyClient.Close()
		}
	}

	auth, err := authenticatorFromConfig(cfg, credAuth, valkeyClient)
	if err != nil {
		release()
		return nil, nil, err
	}

	classifier, err := classifierFromConfig(cfg)
	if err != nil {
		release()
		return nil, nil, err
	}

	metrics, err := invoke.NewMetricsObserver(
		"vmware-session/"+cfg.Application.Name,
		otlp.CreateAttributesFrom(cfg.Application)...,
	)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("creating metrics: %w", err)
	}

	policy := cfg.Retry.Policy()
	poll := cfg.TaskPoll.Options()

	c, err := client.New(ctx, client.Options{
		Transport:     tr,
		Authenticator: auth,
		Checker:       credAuth,
		Classifier:    classifier,
		Policy:        &policy,
		Poll:          &poll,
		Observer:      invoke.Observers{invoke.LogObserver{}, metrics},
		OpIDPrefix:    cfg.Endpoint.OpIDPrefix,
		CreateSession: cfg.Session.CreateSession,
		SessionOptions: []session.Option{
			session.WithLoginTimeout(cfg.Session.LoginTimeout),
			session.WithActiveTTL(cfg.Session.ActiveCheckTTL),
		},
	})
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("creating client: %w", err)
	}

	return c, func(ctx context.Context) {
		// A published session outlives this process.
		if !cfg.ValKey.Publish {
			c.Close(ctx)
		}
		release()
	}, nil
}

func transportFromConfig(cfg *config.Config) (*rest.Client, error) {
	opts := rest.Options{
		Scheme:            cfg.Endpoint.Scheme,
		Host:              cfg.Endpoint.Host,
		Port:              cfg.Endpoint.Port,
		Insecure:          cfg.Endpoint.Insecure,
		PoolSize:          cfg.Endpoint.PoolSize,
		ConnectionTimeout: cfg.Endpoint.ConnectionTimeout,
	}

	if cfg.Endpoint.CACert != "" {
		pem, err := os.ReadFile(cfg.Endpoint.CACert)
		if err != nil {
			return nil, fmt.Errorf("reading CA bundle: %w", err)
		}
		opts.CACert = pem
	}

	return rest.New(opts)
}

func authenticatorFromConfig(cfg *config.Config, credAuth *session.CredentialAuthenticator, valkeyClient valkey.Client) (session.Authenticator, error) {
	var store session.Store
	if valkeyClient != nil {
		endpoint := rest.BuildBaseURL(cfg.Endpoint.Scheme, cfg.Endpoint.Host, cfg.Endpoint.Port)
		store = sessionvalkey.NewRepository(valkeyClient, cfg.ValKey.Prefix, endpoint)
	}

	if cfg.Session.UseExternal {
		key, err := config.LoadExternalKey(cfg.Session)
		if err != nil {
			return nil, err
		}
		if key != "" {
			return session.NewExternalAuthenticator(key, ""), nil
		}

		if store == nil {
			return nil, ErrNoSessionSource
		}

		// Only read what others published.
		return session.NewSharedAuthenticator(store, nil, cfg.ValKey.TTL), nil
	}

	if cfg.ValKey.Publish && store != nil {
		return session.NewSharedAuthenticator(store, credAuth, cfg.ValKey.TTL), nil
	}

	return credAuth, nil
}

func classifierFromConfig(cfg *config.Config) (fault.Classifier, error) {
	if cfg.Faults.TableFile == "" {
		return fault.DefaultTable(), nil
	}

	table, err := fault.LoadTable(cfg.Faults.TableFile)
	if err != nil {
		return nil, fmt.Errorf("loading fault table: %w", err)
	}

	return table, nil
}

func valkeyClientFromConfig(cfg *config.Config) (valkey.Client, error) {
	valkeyHost, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Host)
	if err != nil {
		return nil, fmt.Errorf("loading valkey host: %w", err)
	}

	valkeyUsername, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.User)
	if err != nil {
		return nil, fmt.Errorf("loading valkey username: %w", err)
	}

	valkeyPassword, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Password)
	if err != nil {
		return nil, fmt.Errorf("loading valkey password: %w", err)
	}

	valkeyOpts := valkey.ClientOption{
		InitAddress: []string{string(valkeyHost)},
		Username:    string(valkeyUsername),
		Password:    string(valkeyPassword),
	}

	if cfg.ValKey.SecretRef.Type == commoncfg.MTLSSecretType {
		tlsConfig, err := commoncfg.LoadMTLSConfig(&cfg.ValKey.SecretRef.MTLS)
		if err != nil {
			return nil, fmt.Errorf("loading valkey mTLS config from secret ref: %w", err)
		}

		valkeyOpts.TLSConfig = tlsConfig
	}

	valkeyClient, err := valkey.NewClient(valkeyOpts)
	if err != nil {
		return nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	return valkeyClient, nil
}
