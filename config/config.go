package config

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/grovetools/trail/errors"
	"github.com/grovetools/trail/pkg/paths"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Format is the serialization of a config file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

var configNames = []string{
	"trail.yml",
	"trail.yaml",
	"trail.toml",
	".trail.yml",
	".trail.yaml",
}

var overrideNames = []string{
	"trail.override.yml",
	"trail.override.yaml",
	".trail.override.yml",
	".trail.override.yaml",
}

// Load reads and parses a single trail configuration file.
func Load(path string) (*Config, error) {
	cfg, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	return finalize(cfg)
}

// LoadDefault loads configuration starting from the current directory.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to get current directory")
	}

	return LoadFrom(cwd)
}

// LoadFrom loads configuration with hierarchical merging starting from the given directory
func LoadFrom(startDir string) (*Config, error) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return LoadFromWithLogger(startDir, logger)
}

// LoadFromWithLogger loads configuration with hierarchical merging:
//  1. Global config ($XDG_CONFIG_HOME/trail/trail.yml) - base layer
//  2. Project config (trail.yml found upward from startDir) - overrides global
//  3. Local override (trail.override.yml next to the project file) - overrides all
//
// Every layer is optional; with no files at all the defaults are returned.
func LoadFromWithLogger(startDir string, logger *logrus.Logger) (*Config, error) {
	layered, err := loadLayers(startDir, logger)
	if err != nil {
		return nil, err
	}
	return layered.Final, nil
}

// LoadLayered returns every configuration layer alongside the merged result.
func LoadLayered(startDir string) (*LayeredConfig, error) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return loadLayers(startDir, logger)
}

func loadLayers(startDir string, logger *logrus.Logger) (*LayeredConfig, error) {
	layered := &LayeredConfig{
		Overrides: make([]OverrideSource, 0),
		FilePaths: make(map[ConfigSource]string),
	}

	finalConfig := &Config{}

	if globalPath := FindGlobalConfigFile(); globalPath != "" {
		logger.WithField("path", globalPath).Debug("Loading global configuration")
		globalConfig, err := readConfigFile(globalPath)
		if err != nil {
			logger.WithError(err).Warn("Failed to load global configuration, continuing without it")
		} else {
			layered.Global = globalConfig
			layered.FilePaths[SourceGlobal] = globalPath
			finalConfig = mergeConfigs(finalConfig, globalConfig)
		}
	}

	projectPath, err := FindConfigFile(startDir)
	if err == nil && projectPath != layered.FilePaths[SourceGlobal] {
		logger.WithField("path", projectPath).Debug("Loading project configuration")
		projectConfig, err := readConfigFile(projectPath)
		if err != nil {
			return nil, err
		}
		layered.Project = projectConfig
		layered.FilePaths[SourceProject] = projectPath
		finalConfig = mergeConfigs(finalConfig, projectConfig)

		projectDir := filepath.Dir(projectPath)
		for _, name := range overrideNames {
			overridePath := filepath.Join(projectDir, name)
			if _, err := os.Stat(overridePath); err != nil {
				continue
			}
			logger.WithField("path", overridePath).Debug("Loading local override configuration")
			overrideConfig, err := readConfigFile(overridePath)
			if err != nil {
				logger.WithError(err).Warn("Failed to load override file, skipping")
				continue
			}
			layered.Overrides = append(layered.Overrides, OverrideSource{
				Path:   overridePath,
				Config: overrideConfig,
			})
			layered.FilePaths[SourceOverride] = overridePath
			finalConfig = mergeConfigs(finalConfig, overrideConfig)
		}
	}

	final, err := finalize(finalConfig)
	if err != nil {
		return nil, err
	}
	layered.Final = final

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		configData, err := yaml.Marshal(final)
		if err == nil {
			logger.Debugf("Merged configuration:\n%s", string(configData))
		}
	}

	return layered, nil
}

// LoadFromBytes parses configuration from byte array
func LoadFromBytes(data []byte, format Format) (*Config, error) {
	cfg, err := parse(data, format)
	if err != nil {
		return nil, err
	}
	return finalize(cfg)
}

// FindConfigFile searches for a trail configuration file from startDir up to
// the filesystem root.
func FindConfigFile(startDir string) (string, error) {
	dir := startDir
	for {
		for _, name := range configNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.ConfigNotFound(startDir).WithDetail("searchPath", startDir)
}

// FindGlobalConfigFile returns the global config file in the trail config
// directory, or "" when there is none.
func FindGlobalConfigFile() string {
	dir := paths.ConfigDir()
	if dir == "" {
		return ""
	}
	for _, name := range configNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// FormatFor returns the serialization used by the given file name.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// readConfigFile reads and parses one layer without applying defaults.
// Relative watch paths are resolved against the file's directory.
func readConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigNotFound(path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read config file").
			WithDetail("path", path)
	}

	cfg, err := parse(data, FormatFor(path))
	if err != nil {
		if te, ok := err.(*errors.TrailError); ok {
			return nil, te.WithDetail("path", path)
		}
		return nil, err
	}

	cfg.Watch = resolveWatchPaths(filepath.Dir(path), cfg.Watch)
	return cfg, nil
}

// parse decodes data and validates it against the generated schema.
func parse(data []byte, format Format) (*Config, error) {
	expanded := []byte(expandEnvVars(string(data)))

	var cfg Config
	switch format {
	case FormatTOML:
		if err := decodeTOML(expanded, &cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse TOML configuration")
		}
	default:
		if err := yaml.Unmarshal(expanded, &cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse YAML configuration")
		}
	}

	validator, err := NewSchemaValidator()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to create validator")
	}
	if err := validator.Validate(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "schema validation failed")
	}

	return &cfg, nil
}

// decodeTOML fills cfg from a TOML document. go-toml has no inline map
// support, so unknown top-level tables are collected into Extensions by hand.
func decodeTOML(data []byte, cfg *Config) error {
	if err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg); err != nil {
		return err
	}

	var raw map[string]interface{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, value := range raw {
		switch key {
		case "version", "watch", "ignore", "store", "daemon":
			continue
		}
		if cfg.Extensions == nil {
			cfg.Extensions = make(map[string]interface{})
		}
		cfg.Extensions[key] = value
	}
	return nil
}

func finalize(cfg *Config) (*Config, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		varName := envVarRegex.FindStringSubmatch(match)[1]

		// Handle default values: ${VAR:-default}
		parts := strings.SplitN(varName, ":-", 2)
		varName = parts[0]
		defaultValue := ""
		if len(parts) > 1 {
			defaultValue = parts[1]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return defaultValue
	})
}

// resolveWatchPaths expands ~ and anchors relative entries at baseDir.
func resolveWatchPaths(baseDir string, watch []string) []string {
	if len(watch) == 0 {
		return watch
	}
	resolved := make([]string, 0, len(watch))
	for _, p := range watch {
		if p == "" {
			resolved = append(resolved, p)
			continue
		}
		p = expandHome(p)
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		resolved = append(resolved, filepath.Clean(p))
	}
	return resolved
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// IsConfigFile reports whether name is one of the file names trail reads
// configuration from, overrides included.
func IsConfigFile(name string) bool {
	base := filepath.Base(name)
	for _, n := range configNames {
		if base == n {
			return true
		}
	}
	for _, n := range overrideNames {
		if base == n {
			return true
		}
	}
	return false
}
