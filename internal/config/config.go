// Package config loads the settings file and resolves environment endpoints.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mowtools/emsync/internal/errors"
)

// Environment selects the upstream deployment to mirror
type Environment string

const (
	EnvPRD Environment = "prd"
	EnvTEI Environment = "tei"
	EnvDEV Environment = "dev"
	EnvAIM Environment = "aim"
)

// AuthMethod selects how upstream requests are authenticated
type AuthMethod string

const (
	AuthJWT    AuthMethod = "JWT"
	AuthCert   AuthMethod = "CERT"
	AuthCookie AuthMethod = "COOKIE"
)

// defaultBaseURLs maps each environment to its upstream service host.
// Overridable through the settings file.
var defaultBaseURLs = map[Environment]string{
	EnvPRD: "https://services.apps.mow.vlaanderen.be/",
	EnvTEI: "https://services.apps-tei.mow.vlaanderen.be/",
	EnvDEV: "https://services.apps-dev.mow.vlaanderen.be/",
	EnvAIM: "https://services-aim.apps-dev.mow.vlaanderen.be/",
}

// DatabaseSettings holds the target ArangoDB connection details
type DatabaseSettings struct {
	Endpoint string `yaml:"endpoint"`
	Database string `yaml:"database" validate:"required"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password" validate:"required"`
}

// JWTSettings holds signed-key authentication material
type JWTSettings struct {
	KeyPath  string `yaml:"key_path" validate:"required,file"`
	ClientID string `yaml:"client_id" validate:"required"`
}

// CertSettings holds mutual-TLS authentication material
type CertSettings struct {
	CertPath string `yaml:"cert_path" validate:"required,file"`
	KeyPath  string `yaml:"key_path" validate:"required,file"`
}

// AuthenticationSettings groups credentials per method and environment
type AuthenticationSettings struct {
	JWT  map[string]JWTSettings  `yaml:"JWT"`
	Cert map[string]CertSettings `yaml:"CERT"`
}

// Settings is the parsed settings file. Unrecognized keys are ignored.
type Settings struct {
	Databases      map[string]DatabaseSettings `yaml:"databases"`
	Authentication AuthenticationSettings      `yaml:"authentication"`
	BaseURLs       map[string]string           `yaml:"base_urls"`
}

// Load reads and parses the settings file. JSON settings files parse fine
// through the YAML decoder.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigurationError("read settings file").WithCause(err).
			WithDetail("path", path)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.NewConfigurationError("parse settings file").WithCause(err).
			WithDetail("path", path)
	}
	return &s, nil
}

// ParseEnvironment parses an environment name
func ParseEnvironment(s string) (Environment, error) {
	env := Environment(strings.ToLower(s))
	switch env {
	case EnvPRD, EnvTEI, EnvDEV, EnvAIM:
		return env, nil
	}
	return "", errors.NewConfigurationError(fmt.Sprintf("invalid environment %q", s))
}

// ParseAuthMethod parses an authentication method name
func ParseAuthMethod(s string) (AuthMethod, error) {
	switch strings.ToUpper(s) {
	case "JWT":
		return AuthJWT, nil
	case "CERT":
		return AuthCert, nil
	case "COOKIE":
		return AuthCookie, nil
	}
	return "", errors.NewConfigurationError(fmt.Sprintf("invalid authentication method %q", s))
}

// BaseURL resolves the upstream host for env
func (s *Settings) BaseURL(env Environment) (string, error) {
	if s.BaseURLs != nil {
		if url, ok := s.BaseURLs[string(env)]; ok {
			return url, nil
		}
	}
	url, ok := defaultBaseURLs[env]
	if !ok {
		return "", errors.NewConfigurationError(fmt.Sprintf("no base URL for environment %q", env))
	}
	return url, nil
}

// Database returns the database settings for env
func (s *Settings) Database(env Environment) (DatabaseSettings, error) {
	db, ok := s.Databases[string(env)]
	if !ok {
		return DatabaseSettings{}, errors.NewConfigurationError(
			fmt.Sprintf("no database settings for environment %q", env))
	}
	if db.Endpoint == "" {
		db.Endpoint = "http://localhost:8529"
	}
	if err := validator.New().Struct(db); err != nil {
		return DatabaseSettings{}, errors.NewConfigurationError("incomplete database settings").
			WithCause(err).WithDetail("environment", string(env))
	}
	return db, nil
}

// JWT returns the JWT credentials for env
func (s *Settings) JWT(env Environment) (JWTSettings, error) {
	js, ok := s.Authentication.JWT[string(env)]
	if !ok {
		return JWTSettings{}, errors.NewConfigurationError(
			fmt.Sprintf("no JWT settings for environment %q", env))
	}
	if err := validator.New().Struct(js); err != nil {
		return JWTSettings{}, errors.NewConfigurationError("incomplete JWT settings").
			WithCause(err).WithDetail("environment", string(env))
	}
	return js, nil
}

// Cert returns the mutual-TLS credentials for env
func (s *Settings) Cert(env Environment) (CertSettings, error) {
	cs, ok := s.Authentication.Cert[string(env)]
	if !ok {
		return CertSettings{}, errors.NewConfigurationError(
			fmt.Sprintf("no CERT settings for environment %q", env))
	}
	if err := validator.New().Struct(cs); err != nil {
		return CertSettings{}, errors.NewConfigurationError("incomplete CERT settings").
			WithCause(err).WithDetail("environment", string(env))
	}
	return cs, nil
}
