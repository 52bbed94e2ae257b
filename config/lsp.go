package config

import "time"

// LspConfig holds everything cmd/lspd needs to run: the transport identity,
// the node backend it quotes liquidity from, the terms it advertises, and
// the storage it depends on. Grounded on the nested toml/env struct shape
// of the teacher's config.ApiConfig.
type LspConfig struct {
	Identity struct {
		KeyFile    string `toml:"key_file" env:"PUBLSP_LSP_KEY_FILE" env-default:"lsp_keys.json"`
		Reuse      bool   `toml:"reuse" env:"PUBLSP_LSP_KEY_REUSE" env-default:"true"`
		Persist    bool   `toml:"persist" env:"PUBLSP_LSP_KEY_PERSIST" env-default:"true"`
		Passphrase string `toml:"passphrase" env:"PUBLSP_LSP_KEY_PASSPHRASE"`
	} `toml:"identity"`

	Relays struct {
		URLs []string `toml:"urls" env:"PUBLSP_LSP_RELAY_URLS" env-separator:","`
	} `toml:"relays"`

	Node struct {
		RestHost         string        `toml:"rest_host" env:"PUBLSP_LSP_NODE_REST_HOST"`
		CertFilePath     string        `toml:"cert_file" env:"PUBLSP_LSP_NODE_CERT_FILE"`
		MacaroonFilePath string        `toml:"macaroon_file" env:"PUBLSP_LSP_NODE_MACAROON_FILE"`
		ConnectTimeout   time.Duration `toml:"connect_timeout" env:"PUBLSP_LSP_NODE_CONNECT_TIMEOUT" env-default:"10s"`
	} `toml:"node"`

	Ad struct {
		MinRequiredChannelConfirmations int64   `toml:"min_required_channel_confirmations" env:"PUBLSP_LSP_AD_MIN_CHAN_CONFS" env-default:"0"`
		MinFundingConfirmsWithinBlocks  int64   `toml:"min_funding_confirms_within_blocks" env:"PUBLSP_LSP_AD_MIN_FUNDING_CONFIRMS_BLOCKS" env-default:"6"`
		SupportsZeroChannelReserve      bool    `toml:"supports_zero_channel_reserve" env:"PUBLSP_LSP_AD_ZERO_RESERVE" env-default:"false"`
		MaxChannelExpiryBlocks          int64   `toml:"max_channel_expiry_blocks" env:"PUBLSP_LSP_AD_MAX_EXPIRY_BLOCKS" env-default:"13140"`
		MinInitialClientBalanceSat      int64   `toml:"min_initial_client_balance_sat" env:"PUBLSP_LSP_AD_MIN_CLIENT_BALANCE" env-default:"0"`
		MaxInitialClientBalanceSat      int64   `toml:"max_initial_client_balance_sat" env:"PUBLSP_LSP_AD_MAX_CLIENT_BALANCE" env-default:"0"`
		MinInitialLspBalanceSat         int64   `toml:"min_initial_lsp_balance_sat" env:"PUBLSP_LSP_AD_MIN_LSP_BALANCE" env-default:"100000"`
		MaxInitialLspBalanceSat         int64   `toml:"max_initial_lsp_balance_sat" env:"PUBLSP_LSP_AD_MAX_LSP_BALANCE" env-default:"0"`
		MinChannelBalanceSat            int64   `toml:"min_channel_balance_sat" env:"PUBLSP_LSP_AD_MIN_CHANNEL_BALANCE" env-default:"100000"`
		MaxChannelBalanceSat            int64   `toml:"max_channel_balance_sat" env:"PUBLSP_LSP_AD_MAX_CHANNEL_BALANCE" env-default:"0"`
		FixedCostSats                   int64   `toml:"fixed_cost_sats" env:"PUBLSP_LSP_AD_FIXED_COST_SATS" env-default:"1000"`
		VariableCostPpm                 int64   `toml:"variable_cost_ppm" env:"PUBLSP_LSP_AD_VARIABLE_COST_PPM" env-default:"2000"`
		MaxPromisedFeeRate              int64   `toml:"max_promised_fee_rate" env:"PUBLSP_LSP_AD_MAX_PROMISED_FEE_RATE" env-default:"0"`
		MaxPromisedBaseFee              int64   `toml:"max_promised_base_fee" env:"PUBLSP_LSP_AD_MAX_PROMISED_BASE_FEE" env-default:"0"`
		LspMessage                      string  `toml:"lsp_message" env:"PUBLSP_LSP_AD_MESSAGE"`
		SumUtxosAsMaxCapacity           bool    `toml:"sum_utxos_as_max_capacity" env:"PUBLSP_LSP_AD_SUM_UTXOS_AS_MAX" env-default:"false"`
		ChannelMaxBucketSat             int64   `toml:"channel_max_bucket_sat" env:"PUBLSP_LSP_AD_CHANNEL_MAX_BUCKET" env-default:"1000000"`
		DynamicFixedCost                bool    `toml:"dynamic_fixed_cost" env:"PUBLSP_LSP_AD_DYNAMIC_FIXED_COST" env-default:"false"`
		FixedCostConfTarget             int32   `toml:"fixed_cost_conf_target" env:"PUBLSP_LSP_AD_FIXED_COST_CONF_TARGET" env-default:"6"`
		FixedCostVbMultiplier           float64 `toml:"fixed_cost_vb_multiplier" env:"PUBLSP_LSP_AD_FIXED_COST_VB_MULTIPLIER" env-default:"110"`
		IncludeNodeSig                  bool    `toml:"include_node_sig" env:"PUBLSP_LSP_AD_INCLUDE_NODE_SIG" env-default:"true"`
	} `toml:"ad"`

	Health struct {
		Interval time.Duration `toml:"interval" env:"PUBLSP_LSP_HEALTH_INTERVAL" env-default:"5m"`
	} `toml:"health"`

	Orchestrator struct {
		InvoiceExpiry  time.Duration `toml:"invoice_expiry" env:"PUBLSP_LSP_ORDER_INVOICE_EXPIRY" env-default:"20m"`
		ConnectTimeout time.Duration `toml:"connect_timeout" env:"PUBLSP_LSP_ORDER_CONNECT_TIMEOUT" env-default:"15s"`
	} `toml:"orchestrator"`

	Leases struct {
		LogPath string `toml:"log_path" env:"PUBLSP_LSP_LEASE_LOG_PATH" env-default:"leases.json"`
	} `toml:"leases"`

	Events struct {
		ConsumerGroup string `toml:"consumer_group" env:"PUBLSP_LSP_EVENTS_GROUP" env-default:"publsp_lsp"`
	} `toml:"events"`

	Redis struct {
		Host     string `toml:"host" env:"PUBLSP_LSP_REDIS_HOST" env-default:"localhost"`
		Port     string `toml:"port" env:"PUBLSP_LSP_REDIS_PORT" env-default:"6379"`
		Password string `toml:"password" env:"PUBLSP_LSP_REDIS_PASSWORD"`
		DB       int    `toml:"db" env:"PUBLSP_LSP_REDIS_DB" env-default:"0"`
	} `toml:"redis"`
}
