// Package config owns the Config struct threaded by pointer through
// every other subsystem. Nothing here is stored globally: callers build
// one Config and pass it down.
package config

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/nvim-neorocks/lux/internal/progress"
	"github.com/nvim-neorocks/lux/internal/ui"
)

// Config bundles everything a resolve-and-install run needs that isn't
// itself declarative input: where the remote index lives, where cached
// and installed artifacts go, which lua version to target, and the
// sinks (HTTP, logging, progress) the rest of the core reports through.
type Config struct {
	RegistryURL string
	CacheDir    string
	TreeRoot    string
	LuaVersion  string
	HTTPClient  *http.Client
	Logger      *ui.Logger
	Sink        progress.Sink
}

// DefaultRegistryURL is the conventional public repository base used when
// a project doesn't override it.
const DefaultRegistryURL = "https://luarocks.org"

// Default returns a Config for luaVersion with every field defaulted:
// cache under $XDG_CACHE_HOME/lux (falling back to ~/.cache/lux), tree
// rooted at ./lux_modules, a plain *http.Client, a non-verbose *ui.Logger,
// and a progress.NopSink.
func Default(luaVersion string) (*Config, error) {
	cacheDir, err := defaultCacheDir()
	if err != nil {
		return nil, err
	}
	return &Config{
		RegistryURL: DefaultRegistryURL,
		CacheDir:    cacheDir,
		TreeRoot:    "lux_modules",
		LuaVersion:  luaVersion,
		HTTPClient:  &http.Client{},
		Logger:      ui.NewLogger(false),
		Sink:        progress.NopSink{},
	}, nil
}

func defaultCacheDir() (string, error) {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "lux"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "determining default cache directory")
	}
	return filepath.Join(home, ".cache", "lux"), nil
}
