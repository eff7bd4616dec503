package risk

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	MaxOrderQty      string   `envconfig:"RISK_MAX_ORDER_QTY" default:"0"`
	MaxOrderNotional string   `envconfig:"RISK_MAX_ORDER_NOTIONAL" default:"0"`
	AllowedSymbols   []string `envconfig:"RISK_ALLOWED_SYMBOLS"`

	RemoteURL        string        `envconfig:"RISK_REMOTE_URL"`
	RemoteTimeout    time.Duration `envconfig:"RISK_REMOTE_TIMEOUT" default:"5s"`
	RemoteRetryCount int           `envconfig:"RISK_REMOTE_RETRY_COUNT" default:"3"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
