package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Environment names a quoteflow deployment, selected with APP_ENV.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

const appEnvVar = "APP_ENV"

var environmentAliases = map[string]Environment{
	"dev":   Development,
	"stage": Staging,
	"prod":  Production,
}

// CurrentEnvironment reads APP_ENV. Unset means Development; unknown names
// are returned lowercased.
func CurrentEnvironment() Environment {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return Development
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return Environment(env)
}

// Deployed reports whether quotes polled in this environment feed real
// consumers. Deployed environments publish CloudWatch metrics by default.
func (e Environment) Deployed() bool {
	return e == Staging || e == Production
}

// variant inserts the environment before the file extension, so
// config/config.yml becomes config/config.production.yml. Only deployed
// environments have variants.
func (e Environment) variant(path string) string {
	if !e.Deployed() {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + string(e) + ext
}

// ResolvePath returns the environment variant of the default config file.
// Explicit paths are kept.
func ResolvePath(path string) string {
	return resolve(path, DefaultConfigPath)
}

// ResolveShardsPath is ResolvePath for the symbol shard file.
func ResolveShardsPath(path string) string {
	return resolve(path, DefaultShardsPath)
}

func resolve(path, defaultPath string) string {
	if path == "" {
		path = defaultPath
	}
	if path != defaultPath {
		return path
	}
	return CurrentEnvironment().variant(path)
}
