package bot

import (
	"github.com/caarlos0/env/v11"
)

// Config holds bot-level configuration loaded from environment variables.
// Module-specific configuration is loaded by each module via ConfigurableModule.
type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN,notEmpty"`
}

// LoadConfig loads bot configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
