// Package config loads the engine's on-disk configuration: the recipe root's
// *.json device/recipe-adjacent config fragments, merged the way the
// teacher's config.Loader merges multiple YAML files, plus a single
// YAML-encoded engine settings file for daemon-level tuning.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/creasty/defaults"
	"github.com/imdario/mergo"
	"github.com/mitchellh/mapstructure"

	"github.com/pilatus-run/pilatus/logging"
)

// Policy mirrors the teacher's required/optional config knob: whether a
// missing config is an error or simply means "use defaults."
type Policy string

const (
	// Required means Load fails if no matching file is found.
	Required Policy = "required"
	// Optional means a missing file is not an error; Scan leaves the
	// destination at its defaults.
	Optional Policy = "optional"
)

// ErrConfigsNotFound is returned by Load when policy is Required and no
// matching files were found under Root.
var ErrConfigsNotFound = errors.New("config: no configuration files found")

// Loader finds, reads, and merges every JSON file in a directory into a
// single map, then decodes it into a destination struct. Generalized from
// the teacher's sdk/config/config.go Loader (yaml-only, search-path based)
// to read a directory of JSON fragments instead, matching this module's
// "<root>/*.json" recipe-adjacent config convention; the merge/decode
// machinery (mergo override-merge, mapstructure decode, creasty/defaults
// seeding) is unchanged.
type Loader struct {
	Name string
	Root string

	// Exclude lists file base names (e.g. "recipes.json", "settings.json")
	// that belong to other subsystems and must not be merged as generic
	// config.
	Exclude []string

	policy Policy
	files  []string
	data   []map[string]interface{}
	merged map[string]interface{}
}

// NewLoader creates a loader rooted at root.
func NewLoader(name, root string, exclude ...string) *Loader {
	return &Loader{Name: name, Root: root, Exclude: exclude}
}

// Load searches Root for *.json files (other than Exclude), reads and
// merges them, applying pol to decide whether finding none is an error.
func (l *Loader) Load(pol Policy) error {
	log := logging.Get("config loader").WithField("loader", l.Name)
	log.WithField("root", l.Root).Info("loading configuration")

	l.policy = pol
	if err := l.search(pol); err != nil {
		return err
	}
	if err := l.read(); err != nil {
		return err
	}
	return l.merge()
}

// Scan decodes the merged configuration into out, a pointer to a
// zero-value struct. Struct fields get their `default` tags applied before
// decoding, so unset keys in every file still end up with sane values.
func (l *Loader) Scan(out interface{}) error {
	if len(l.merged) == 0 {
		if l.policy == Optional || len(l.files) > 0 {
			return defaults.Set(out)
		}
		return fmt.Errorf("config: no merged config to scan for loader %q", l.Name)
	}

	if err := defaults.Set(out); err != nil {
		return fmt.Errorf("config: set defaults: %w", err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(l.merged)
}

func (l *Loader) search(pol Policy) error {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		if pol == Required {
			return fmt.Errorf("%w: %s", ErrConfigsNotFound, l.Root)
		}
		return nil
	}

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		if l.excluded(e.Name()) {
			continue
		}
		l.files = append(l.files, filepath.Join(l.Root, e.Name()))
	}

	if pol == Required && len(l.files) == 0 {
		return fmt.Errorf("%w: %s", ErrConfigsNotFound, l.Root)
	}
	return nil
}

func (l *Loader) excluded(name string) bool {
	for _, ex := range l.Exclude {
		if ex == name {
			return true
		}
	}
	return false
}

func (l *Loader) read() error {
	log := logging.Get("config loader").WithField("loader", l.Name)
	for _, path := range l.files {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		res, err := decodeJSONFragment(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		log.WithField("file", path).Debug("loaded configuration fragment")
		l.data = append(l.data, res)
	}
	return nil
}

func (l *Loader) merge() error {
	for _, data := range l.data {
		if len(data) == 0 {
			continue
		}
		if err := mergo.Map(&l.merged, data, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
			return fmt.Errorf("config: merge: %w", err)
		}
	}
	return nil
}

func decodeJSONFragment(data []byte) (map[string]interface{}, error) {
	res := map[string]interface{}{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return res, nil
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	return res, nil
}
