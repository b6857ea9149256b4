package tokenstore

import (
	"crypto/tls"

	"github.com/apptemplate/clientkit/internal/config"
	"github.com/valkey-io/valkey-go"
)

// valkeyClientOption maps the store configuration onto valkey client options.
// Credentials are static for the life of the process.
func valkeyClientOption(cfg config.ValkeyConfig) valkey.ClientOption {
	username, password := cfg.Username, cfg.Password

	opt := valkey.ClientOption{
		InitAddress: []string{cfg.Address},
		AuthCredentialsFn: func(valkey.AuthCredentialsContext) (valkey.AuthCredentials, error) {
			return valkey.AuthCredentials{Username: username, Password: password}, nil
		},
		// tokens are read once per request; server assisted caching adds
		// nothing here
		DisableCache: true,
	}

	if cfg.TLS {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return opt
}
