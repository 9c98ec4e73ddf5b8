// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"

	"github.com/openkcm/vmware-session/internal/serviceerr"
	"github.com/openkcm/vmware-session/pkg/invoke"
	"github.com/openkcm/vmware-session/pkg/task"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	Endpoint    Endpoint    `yaml:"endpoint"`
	Credentials Credentials `yaml:"credentials"`
	Session     Session     `yaml:"session"`
	Retry       Retry       `yaml:"retry"`
	TaskPoll    TaskPoll    `yaml:"taskPoll"`
	ValKey      ValKey      `yaml:"valkey"`
	Faults      Faults      `yaml:"faults"`
}

type Endpoint struct {
	Scheme            string        `yaml:"scheme" default:"https"`
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port" default:"443"`
	CACert            string        `yaml:"caCert"`
	Insecure          bool          `yaml:"insecure"`
	PoolSize          int           `yaml:"poolSize" default:"10"`
	ConnectionTimeout time.Duration `yaml:"connectionTimeout" default:"30s"`
	OpIDPrefix        string        `yaml:"opIDPrefix" default:"oslo"`
}

type Credentials struct {
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
	Locale   string              `yaml:"locale"`
}

type Session struct {
	// UseExternal skips the login and works with a key created elsewhere,
	// either ExternalKey or the one published in valkey.
	UseExternal bool                `yaml:"useExternal"`
	ExternalKey commoncfg.SourceRef `yaml:"externalKey"`
	// CreateSession logs in at startup instead of on the first call.
	CreateSession  bool          `yaml:"createSession"`
	LoginTimeout   time.Duration `yaml:"loginTimeout" default:"2m"`
	ActiveCheckTTL time.Duration `yaml:"activeCheckTTL" default:"10s"`
}

type Retry struct {
	MaxAttempts int           `yaml:"maxAttempts" default:"10"`
	BaseDelay   time.Duration `yaml:"baseDelay" default:"1s"`
	MaxDelay    time.Duration `yaml:"maxDelay" default:"1m"`
	Multiplier  float64       `yaml:"multiplier" default:"2"`
	Jitter      float64       `yaml:"jitter" default:"0.2"`
	MaxElapsed  time.Duration `yaml:"maxElapsed"`
}

type TaskPoll struct {
	Interval    time.Duration `yaml:"interval" default:"500ms"`
	MaxInterval time.Duration `yaml:"maxInterval" default:"5s"`
	Growth      float64       `yaml:"growth" default:"2"`
	Timeout     time.Duration `yaml:"timeout"`
}

type ValKey struct {
	Enabled   bool                `yaml:"enabled"`
	Host      commoncfg.SourceRef `yaml:"host"`
	User      commoncfg.SourceRef `yaml:"user"`
	Password  commoncfg.SourceRef `yaml:"password"`
	SecretRef commoncfg.SecretRef `yaml:"secretRef"`
	Prefix    string              `yaml:"prefix" default:"vmware-session"`
	// Publish stores the key of every login so that other processes can
	// share the session.
	Publish bool          `yaml:"publish"`
	TTL     time.Duration `yaml:"ttl" default:"30m"`
}

type Faults struct {
	// TableFile maps extra fault names to a class, see fault.ParseTable.
	TableFile string `yaml:"tableFile"`
}

func (r Retry) Policy() invoke.Policy {
	p := invoke.DefaultPolicy()
	p.MaxAttempts = r.MaxAttempts
	p.BaseDelay = r.BaseDelay
	p.MaxDelay = r.MaxDelay
	p.Multiplier = r.Multiplier
	p.Jitter = r.Jitter
	p.MaxElapsed = r.MaxElapsed

	return p
}

func (p TaskPoll) Options() task.Options {
	return task.Options{
		Interval:    p.Interval,
		MaxInterval: p.MaxInterval,
		Growth:      p.Growth,
		Timeout:     p.Timeout,
	}
}

// Validate reports every problem of the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Endpoint.Host == "" {
		errs = append(errs, errors.New("endpoint host is empty"))
	}
	if c.Endpoint.Port < 0 || c.Endpoint.Port > 65535 {
		errs = append(errs, fmt.Errorf("endpoint port %d is out of range", c.Endpoint.Port))
	}
	if c.Endpoint.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("endpoint pool size %d is negative", c.Endpoint.PoolSize))
	}
	if c.Endpoint.Insecure && c.Endpoint.CACert != "" {
		errs = append(errs, errors.New("endpoint caCert and insecure are mutually exclusive"))
	}

	if err := c.Retry.Policy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.TaskPoll.Options().Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Session.UseExternal && c.Session.ExternalKey.Source == "" && !c.ValKey.Enabled {
		errs = append(errs, errors.New("session useExternal needs an externalKey or valkey"))
	}
	if c.ValKey.Publish && !c.ValKey.Enabled {
		errs = append(errs, errors.New("valkey publish needs valkey to be enabled"))
	}

	if len(errs) == 0 {
		return nil
	}

	return errors.Join(append([]error{serviceerr.ErrInvalidConfig}, errs...)...)
}
