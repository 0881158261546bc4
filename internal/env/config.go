package env

import (
	"context"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	RuntimeDir string `env:"XDG_RUNTIME_DIR"`
	Display    string `env:"WAYLAND_DISPLAY,default=wayland-0"`
	DebugHTTP  bool   `env:"WAYCORE_DEBUG_HTTP"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			panic(err)
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// SocketPath resolves the display socket path from the loaded
// configuration. An absolute display name stands on its own.
func (c *Config) SocketPath() string {
	if filepath.IsAbs(c.Display) {
		return c.Display
	}

	return filepath.Join(c.RuntimeDir, c.Display)
}
