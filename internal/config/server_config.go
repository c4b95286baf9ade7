package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "AUTOYIELD"

type EchoServer struct {
	Debug                          bool
	ListenAddress                  string
	HideInternalServerErrorDetails bool
	EnableRecoverMiddleware        bool
	EnableRequestIDMiddleware      bool
	EnableLoggerMiddleware         bool
	// APIToken guards /api/v1; an empty token disables the API group.
	APIToken string `json:"-"`
}

type LoggerServer struct {
	Level              zerolog.Level
	RequestLevel       zerolog.Level
	LogRequestBody     bool
	LogResponseBody    bool
	PrettyPrintConsole bool
}

type Chain struct {
	// RPCURLs are tried in order, the first healthy one wins.
	RPCURLs        []string
	ChainID        int64
	EntryPoint     string
	RequestTimeout time.Duration
}

type Relay struct {
	BundlerURL   string
	PaymasterURL string
	// SponsorshipEnabled skips both sponsorship stages when false.
	SponsorshipEnabled  bool
	SponsorshipPolicyID string
	RequestsPerSecond   float64
	Burst               int
	GasBufferPercent    int64
	ReceiptPollInterval time.Duration
	ConfirmationTimeout time.Duration
}

type Automation struct {
	KeyScope string
	// AccountIndexes maps account address to derivation index, used with key scope per_account.
	AccountIndexes        map[string]uint32
	MinAPYImprovementBPS  int64
	MinTVL                string
	OracleURL             string
	OracleMaxAge          time.Duration
	OracleNetwork         string
	SweepRequiresPosition bool
}

type Scheduler struct {
	Enabled              bool
	TickInterval         time.Duration
	MaxConcurrency       int
	MaxConsecutiveErrors int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	SeedFile             string
}

type Keystore struct {
	Path       string
	Password   string `json:"-"`
	Passphrase string `json:"-"`
	ScryptN    int
}

type Server struct {
	Logger     LoggerServer
	Echo       EchoServer
	Chain      Chain
	Relay      Relay
	Automation Automation
	Scheduler  Scheduler
	Keystore   Keystore
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.request_level", "info")
	v.SetDefault("logger.log_request_body", false)
	v.SetDefault("logger.log_response_body", false)
	v.SetDefault("logger.pretty_print_console", false)

	v.SetDefault("echo.debug", false)
	v.SetDefault("echo.listen_address", ":8080")
	v.SetDefault("echo.hide_internal_server_error_details", true)
	v.SetDefault("echo.enable_recover_middleware", true)
	v.SetDefault("echo.enable_request_id_middleware", true)
	v.SetDefault("echo.enable_logger_middleware", true)
	v.SetDefault("api_token", "")

	v.SetDefault("chain.rpc_urls", "http://127.0.0.1:8545")
	v.SetDefault("chain.chain_id", 8453)
	v.SetDefault("chain.entry_point", "0x0000000071727De22E5E9d8BAf0edAc6f37da032")
	v.SetDefault("chain.request_timeout", 15*time.Second)

	v.SetDefault("relay.bundler_url", "")
	v.SetDefault("relay.paymaster_url", "")
	v.SetDefault("relay.sponsorship_enabled", true)
	v.SetDefault("relay.sponsorship_policy_id", "")
	v.SetDefault("relay.requests_per_second", 10.0)
	v.SetDefault("relay.burst", 5)
	v.SetDefault("relay.gas_buffer_percent", 20)
	v.SetDefault("relay.receipt_poll_interval", 2*time.Second)
	v.SetDefault("relay.confirmation_timeout", 2*time.Minute)

	v.SetDefault("automation.key_scope", "shared")
	v.SetDefault("automation.account_indexes", "")
	v.SetDefault("automation.min_apy_improvement_bps", 50)
	v.SetDefault("automation.min_tvl", "1000000000000")
	v.SetDefault("automation.oracle_url", "")
	v.SetDefault("automation.oracle_max_age", 15*time.Minute)
	v.SetDefault("automation.oracle_network", "base")
	v.SetDefault("automation.sweep_requires_position", false)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tick_interval", 10*time.Second)
	v.SetDefault("scheduler.max_concurrency", 8)
	v.SetDefault("scheduler.max_consecutive_errors", 10)
	v.SetDefault("scheduler.backoff_base", 30*time.Second)
	v.SetDefault("scheduler.backoff_max", 30*time.Minute)
	v.SetDefault("scheduler.seed_file", "")

	v.SetDefault("keystore.path", "/app/keystore/automation.json")
	v.SetDefault("keystore.password", "")
	v.SetDefault("keystore.passphrase", "")
	v.SetDefault("keystore.scrypt_n", 262144)
}

// DefaultServiceConfigFromEnv returns the server config as parsed from
// environment variables (AUTOYIELD_ prefix, "." replaced by "_") and the
// optional file named by AUTOYIELD_CONFIG_FILE.
func DefaultServiceConfigFromEnv() Server {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			log.Panic().Err(err).Str("file", file).Msg("Failed to read config file")
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) Server {
	return Server{
		Logger: LoggerServer{
			Level:              parseLevel(v.GetString("logger.level"), zerolog.InfoLevel),
			RequestLevel:       parseLevel(v.GetString("logger.request_level"), zerolog.InfoLevel),
			LogRequestBody:     v.GetBool("logger.log_request_body"),
			LogResponseBody:    v.GetBool("logger.log_response_body"),
			PrettyPrintConsole: v.GetBool("logger.pretty_print_console"),
		},
		Echo: EchoServer{
			Debug:                          v.GetBool("echo.debug"),
			ListenAddress:                  v.GetString("echo.listen_address"),
			HideInternalServerErrorDetails: v.GetBool("echo.hide_internal_server_error_details"),
			EnableRecoverMiddleware:        v.GetBool("echo.enable_recover_middleware"),
			EnableRequestIDMiddleware:      v.GetBool("echo.enable_request_id_middleware"),
			EnableLoggerMiddleware:         v.GetBool("echo.enable_logger_middleware"),
			APIToken:                       v.GetString("api_token"),
		},
		Chain: Chain{
			RPCURLs:        splitList(v.GetString("chain.rpc_urls")),
			ChainID:        v.GetInt64("chain.chain_id"),
			EntryPoint:     v.GetString("chain.entry_point"),
			RequestTimeout: v.GetDuration("chain.request_timeout"),
		},
		Relay: Relay{
			BundlerURL:          v.GetString("relay.bundler_url"),
			PaymasterURL:        v.GetString("relay.paymaster_url"),
			SponsorshipEnabled:  v.GetBool("relay.sponsorship_enabled"),
			SponsorshipPolicyID: v.GetString("relay.sponsorship_policy_id"),
			RequestsPerSecond:   v.GetFloat64("relay.requests_per_second"),
			Burst:               v.GetInt("relay.burst"),
			GasBufferPercent:    v.GetInt64("relay.gas_buffer_percent"),
			ReceiptPollInterval: v.GetDuration("relay.receipt_poll_interval"),
			ConfirmationTimeout: v.GetDuration("relay.confirmation_timeout"),
		},
		Automation: Automation{
			KeyScope:              v.GetString("automation.key_scope"),
			AccountIndexes:        parseIndexes(v.GetString("automation.account_indexes")),
			MinAPYImprovementBPS:  v.GetInt64("automation.min_apy_improvement_bps"),
			MinTVL:                v.GetString("automation.min_tvl"),
			OracleURL:             v.GetString("automation.oracle_url"),
			OracleMaxAge:          v.GetDuration("automation.oracle_max_age"),
			OracleNetwork:         v.GetString("automation.oracle_network"),
			SweepRequiresPosition: v.GetBool("automation.sweep_requires_position"),
		},
		Scheduler: Scheduler{
			Enabled:              v.GetBool("scheduler.enabled"),
			TickInterval:         v.GetDuration("scheduler.tick_interval"),
			MaxConcurrency:       v.GetInt("scheduler.max_concurrency"),
			MaxConsecutiveErrors: v.GetInt("scheduler.max_consecutive_errors"),
			BackoffBase:          v.GetDuration("scheduler.backoff_base"),
			BackoffMax:           v.GetDuration("scheduler.backoff_max"),
			SeedFile:             v.GetString("scheduler.seed_file"),
		},
		Keystore: Keystore{
			Path:       v.GetString("keystore.path"),
			Password:   v.GetString("keystore.password"),
			Passphrase: v.GetString("keystore.passphrase"),
			ScryptN:    v.GetInt("keystore.scrypt_n"),
		},
	}
}

func parseLevel(s string, fallback zerolog.Level) zerolog.Level {
	l, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		log.Warn().Str("level", s).Msg("Invalid log level, falling back")
		return fallback
	}
	return l
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseIndexes reads "0xabc:1,0xdef:2" into a lower-cased address map.
func parseIndexes(s string) map[string]uint32 {
	out := make(map[string]uint32)
	for _, entry := range splitList(s) {
		addr, idx, ok := strings.Cut(entry, ":")
		if !ok {
			log.Warn().Str("entry", entry).Msg("Ignoring account index without ':'")
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSpace(idx), 10, 31)
		if err != nil {
			log.Warn().Str("entry", entry).Err(err).Msg("Ignoring invalid account index")
			continue
		}
		out[strings.ToLower(strings.TrimSpace(addr))] = uint32(n)
	}
	return out
}
