package config

import (
	"fmt"

	"github.com/openkcm/common-sdk/pkg/commoncfg"

	"github.com/openkcm/vmware-session/pkg/session"
)

func LoadCredentials(conf Credentials) (session.Credentials, error) {
	user, err := commoncfg.LoadValueFromSourceRef(conf.User)
	if err != nil {
		return session.Credentials{}, fmt.Errorf("loading controller user: %w", err)
	}

	password, err := commoncfg.LoadValueFromSourceRef(conf.Password)
	if err != nil {
		return session.Credentials{}, fmt.Errorf("loading controller password: %w", err)
	}

	return session.Credentials{
		UserName: string(user),
		Password: string(password),
		Locale:   conf.Locale,
	}, nil
}

// LoadExternalKey returns the configured session key, or an empty string if
// none is configured.
func LoadExternalKey(conf Session) (string, error) {
	if conf.ExternalKey.Source == "" {
		return "", nil
	}

	key, err := commoncfg.LoadValueFromSourceRef(conf.ExternalKey)
	if err != nil {
		return "", fmt.Errorf("loading external session key: %w", err)
	}

	return string(key), nil
}
