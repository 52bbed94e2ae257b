package config

import "time"

// CustomerConfig holds everything cmd/customer needs: the transport
// identity it DMs offers and orders with, the relays it discovers ads on,
// and how long it is willing to wait while shopping and ordering.
type CustomerConfig struct {
	Identity struct {
		KeyFile    string `toml:"key_file" env:"PUBLSP_CUSTOMER_KEY_FILE" env-default:"customer_keys.json"`
		Reuse      bool   `toml:"reuse" env:"PUBLSP_CUSTOMER_KEY_REUSE" env-default:"true"`
		Persist    bool   `toml:"persist" env:"PUBLSP_CUSTOMER_KEY_PERSIST" env-default:"true"`
		Passphrase string `toml:"passphrase" env:"PUBLSP_CUSTOMER_KEY_PASSPHRASE"`
	} `toml:"identity"`

	Relays struct {
		URLs []string `toml:"urls" env:"PUBLSP_CUSTOMER_RELAY_URLS" env-separator:","`
	} `toml:"relays"`

	Discovery struct {
		Window time.Duration `toml:"window" env:"PUBLSP_CUSTOMER_DISCOVERY_WINDOW" env-default:"10s"`
	} `toml:"discovery"`

	Order struct {
		ResponseTimeout time.Duration `toml:"response_timeout" env:"PUBLSP_CUSTOMER_ORDER_RESPONSE_TIMEOUT" env-default:"30s"`
		Network         string        `toml:"network" env:"PUBLSP_CUSTOMER_NETWORK" env-default:"mainnet"`
	} `toml:"order"`
}
