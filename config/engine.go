package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v2"

	"github.com/pilatus-run/pilatus/logging"
)

const (
	// EnvRoot overrides the recipe root directory, mirroring the teacher's
	// <PREFIX>_CONFIG env override for a single, frequently-overridden knob.
	EnvRoot = "PILATUSROOT"

	engineFileName = "engine.yaml"
)

// MetricsSettings holds the metrics section of engine.yaml. No package reads
// Enabled: the actor package registers its Prometheus metrics in init()
// regardless of it.
type MetricsSettings struct {
	Enabled bool `yaml:"enabled" default:"true"`
}

// EngineSettings configures the daemon: where recipes live on disk and how
// big a device's mailbox is. AskDefaultTimeout is loaded but not read by any
// package; every Ask takes its timeout as an argument.
// Loaded from a single YAML file the way the teacher loads its top-level
// plugin config, rather than the multi-file JSON merge Loader performs for
// recipe-adjacent fragments.
type EngineSettings struct {
	Root              string          `yaml:"root" default:"data"`
	MailboxCapacity   int             `yaml:"mailbox_capacity" default:"10"`
	AskDefaultTimeout time.Duration   `yaml:"ask_default_timeout" default:"0s"`
	Metrics           MetricsSettings `yaml:"metrics"`
}

// LoadEngineSettings reads <dir>/engine.yaml if present, applies defaults
// for anything unset, then resolves Root against the PILATUSROOT
// environment variable (which wins over both the file and the default).
func LoadEngineSettings(dir string) (*EngineSettings, error) {
	log := logging.Get("config")
	settings := &EngineSettings{}
	if err := defaults.Set(settings); err != nil {
		return nil, fmt.Errorf("config: set defaults: %w", err)
	}

	path := filepath.Join(dir, engineFileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if uerr := yaml.Unmarshal(data, settings); uerr != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, uerr)
		}
		log.WithField("file", path).Info("loaded engine settings")
	case os.IsNotExist(err):
		log.WithField("file", path).Debug("no engine settings file, using defaults")
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if settings.MailboxCapacity <= 0 {
		settings.MailboxCapacity = 10
	}

	if root := os.Getenv(EnvRoot); root != "" {
		log.WithField("root", root).Info("overriding recipe root from environment")
		settings.Root = root
	}

	return settings, nil
}
