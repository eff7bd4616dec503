package syncloop

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LoopPeriod   time.Duration `envconfig:"SYNC_LOOP_PERIOD" default:"30s"`
	UserID       uint          `envconfig:"SYNC_USER_ID" default:"1"`
	TenantID     uint          `envconfig:"SYNC_TENANT_ID" default:"1"`
	ConnectionID uint          `envconfig:"SYNC_CONNECTION_ID" default:"1"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
