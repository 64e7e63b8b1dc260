// Package config loads and validates the webxuker configuration file.
//
// The configuration is read once at startup, validated against an embedded
// JSON Schema and returned as an immutable value that is passed explicitly to
// every component that needs it.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Config is the validated service configuration.
// It must be treated as read-only after Load returns.
type Config struct {
	Incoming       IncomingConfig        `koanf:"incoming"`
	DockerRegistry DockerRegistry        `koanf:"dockerRegistry"`
	Repositories   map[string]RepoConfig `koanf:"repositories"`
}

// IncomingConfig is the HTTP listener binding.
type IncomingConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// Addr returns the host:port listen address.
func (c IncomingConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DockerRegistry holds the credentials used for `docker login`.
type DockerRegistry struct {
	Host     string `koanf:"host"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// LogValue keeps the password out of structured logs.
func (r DockerRegistry) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("host", r.Host),
		slog.String("username", r.Username),
		slog.String("password", "[redacted]"),
	)
}

// RepoConfig describes one repository that can be deployed.
type RepoConfig struct {
	// Template is the filesystem path of the docker-compose template.
	Template string                 `koanf:"template"`
	Stages   map[string]StageConfig `koanf:"stages"`
}

// StageConfig describes one deployment stage of a repository.
type StageConfig struct {
	// WorkDir holds the rendered descriptor and persists across deployments.
	WorkDir string `koanf:"workDir"`
	// Variables are string, int64, float64 or bool values.
	Variables       map[string]any    `koanf:"variables"`
	CopyBeforeStart []CopyInstruction `koanf:"copyBeforeStart"`
}

// CopyInstruction is one `docker cp <from> <to>` performed before start.
type CopyInstruction struct {
	From string `koanf:"from"`
	To   string `koanf:"to"`
}

var (
	// ErrUnknownRepo is returned by Lookup for a repository not in the configuration.
	ErrUnknownRepo = errors.New("repository is not configured")
	// ErrUnknownStage is returned by Lookup for a stage not in the repository.
	ErrUnknownStage = errors.New("stage is not configured")
)

// Lookup resolves a repository and one of its stages.
func (c *Config) Lookup(repo, stage string) (RepoConfig, StageConfig, error) {
	repoCfg, ok := c.Repositories[repo]
	if !ok {
		return RepoConfig{}, StageConfig{}, fmt.Errorf("repository %q: %w", repo, ErrUnknownRepo)
	}
	stageCfg, ok := repoCfg.Stages[stage]
	if !ok {
		return RepoConfig{}, StageConfig{}, fmt.Errorf("stage %q of repository %q: %w", stage, repo, ErrUnknownStage)
	}
	return repoCfg, stageCfg, nil
}

// Problem is a single schema violation.
type Problem struct {
	// Location is a JSON pointer into the configuration document.
	Location string
	Message  string
}

// ConfigError reports why a configuration file was rejected.
type ConfigError struct {
	Path     string
	Problems []Problem
	Err      error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid configuration %s", e.Path)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	for _, p := range e.Problems {
		loc := p.Location
		if loc == "" {
			loc = "/"
		}
		fmt.Fprintf(&b, "; %s: %s", loc, p.Message)
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "webxuker-config.schema.json"

var (
	schemaOnce     sync.Once
	schemaErr      error
	compiledSchema *jsonschema.Schema
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft7
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add config schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads, validates and decodes the configuration file at path.
// JSON and YAML documents are both accepted.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, &ConfigError{Path: path, Err: errors.New("config path cannot be empty")}
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	if err := Validate(k.Raw()); err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			cfgErr.Path = path
			return nil, cfgErr
		}
		return nil, &ConfigError{Path: path, Err: err}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("decode: %w", err)}
	}

	// Credentials may reference the environment, e.g. "${REGISTRY_PASSWORD}".
	cfg.DockerRegistry.Username = substituteEnvVars(cfg.DockerRegistry.Username)
	cfg.DockerRegistry.Password = substituteEnvVars(cfg.DockerRegistry.Password)
	var problems []Problem
	if cfg.DockerRegistry.Username == "" {
		problems = append(problems, Problem{Location: "/dockerRegistry/username", Message: "resolves to an empty string"})
	}
	if cfg.DockerRegistry.Password == "" {
		problems = append(problems, Problem{Location: "/dockerRegistry/password", Message: "resolves to an empty string"})
	}
	if len(problems) > 0 {
		return nil, &ConfigError{Path: path, Problems: problems}
	}

	normalize(&cfg)
	return &cfg, nil
}

// Validate checks a raw configuration document against the schema.
func Validate(doc map[string]any) error {
	sch, err := loadSchema()
	if err != nil {
		return err
	}

	// Round-trip through JSON so the validator sees plain JSON values.
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config document: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return fmt.Errorf("decode config document: %w", err)
	}

	if err := sch.Validate(value); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return &ConfigError{Problems: collectProblems(verr)}
		}
		return err
	}
	return nil
}

func collectProblems(verr *jsonschema.ValidationError) []Problem {
	var problems []Problem
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			problems = append(problems, Problem{Location: e.InstanceLocation, Message: e.Message})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	sort.SliceStable(problems, func(i, j int) bool {
		return problems[i].Location < problems[j].Location
	})
	return problems
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func normalize(cfg *Config) {
	if cfg.Repositories == nil {
		cfg.Repositories = map[string]RepoConfig{}
	}
	for _, repo := range cfg.Repositories {
		for name, stage := range repo.Stages {
			for key, value := range stage.Variables {
				stage.Variables[key] = normalizeScalar(value)
			}
			repo.Stages[name] = stage
		}
	}
}

func normalizeScalar(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}
