package exchange

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPTimeout time.Duration `envconfig:"EXCHANGE_HTTP_TIMEOUT" default:"15s"`

	// Optional endpoint overrides per normalized exchange id, used for
	// sandbox/testnet credentials. Format: "binance:https://testnet...,kraken:https://..."
	SandboxEndpoints map[string]string `envconfig:"EXCHANGE_SANDBOX_ENDPOINTS"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
