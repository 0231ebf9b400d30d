// Package config provides functionality for managing configuration options
// for the application using a config file, command-line flags and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Identity verification modes.
const (
	AuthHeader = "header"
	AuthToken  = "token"
)

// Upload storage backends.
const (
	UploadLocal = "local"
	UploadS3    = "s3"
)

// Options holds the configuration values for the application.
type Options struct {
	// Address defines the server's listening address (ip:port).
	Address string `yaml:"address"`

	// DatabaseDSN holds the database connection string for the application.
	DatabaseDSN string `yaml:"database_dsn"`

	// LogLevel is the minimum zap level written.
	LogLevel string `yaml:"log_level"`

	// AuthMode selects how callers are identified: "header" or "token".
	AuthMode string `yaml:"auth_mode"`
	// TokenSecret signs and verifies HS256 tokens in token mode.
	TokenSecret string `yaml:"auth_token_secret"`

	// UploadBackend is "local" or "s3".
	UploadBackend string `yaml:"upload_backend"`
	UploadDir     string `yaml:"upload_dir"`
	S3Bucket      string `yaml:"s3_bucket"`
	S3Region      string `yaml:"s3_region"`
	S3Endpoint    string `yaml:"s3_endpoint"`
	S3PublicURL   string `yaml:"s3_public_url"`

	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`

	// Config is the path to the config file.
	Config string `yaml:"-"`
}

func defaults() Options {
	return Options{
		Address:       "localhost:8080",
		LogLevel:      "info",
		AuthMode:      AuthHeader,
		UploadBackend: UploadLocal,
		UploadDir:     "uploads",
	}
}

// Parse reads configuration from os.Args and the environment. It exits the
// process on invalid input.
func Parse() *Options {
	opts, err := parse(os.Args[1:], os.Getenv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return opts
}

// parse applies, lowest precedence first: defaults, the config file, flags
// that were set explicitly, then environment variables.
func parse(args []string, getenv func(string) string) (*Options, error) {
	opts := defaults()
	var flagOpts Options

	fs := pflag.NewFlagSet("timecapsule", pflag.ContinueOnError)
	fs.StringVarP(&flagOpts.Address, "address", "a", opts.Address, "run on ip:port server")
	fs.StringVarP(&flagOpts.DatabaseDSN, "database-dsn", "d", "", "db address")
	fs.StringVarP(&flagOpts.Config, "config", "c", "config.yaml", "path to config file (YAML or JSON)")
	fs.StringVar(&flagOpts.LogLevel, "log-level", opts.LogLevel, "log level")
	fs.StringVar(&flagOpts.AuthMode, "auth-mode", opts.AuthMode, "identity mode: header or token")
	fs.StringVar(&flagOpts.TokenSecret, "auth-token-secret", "", "HS256 secret for token mode")
	fs.StringVar(&flagOpts.UploadBackend, "upload-backend", opts.UploadBackend, "upload storage: local or s3")
	fs.StringVar(&flagOpts.UploadDir, "upload-dir", opts.UploadDir, "directory for local uploads")
	fs.StringVar(&flagOpts.S3Bucket, "s3-bucket", "", "S3 bucket for uploads")
	fs.StringVar(&flagOpts.S3Region, "s3-region", "", "S3 region")
	fs.StringVar(&flagOpts.S3Endpoint, "s3-endpoint", "", "custom S3 endpoint")
	fs.StringVar(&flagOpts.S3PublicURL, "s3-public-url", "", "public base URL of uploaded objects")
	fs.StringVar(&flagOpts.TLSCert, "tls-cert", "", "TLS certificate file")
	fs.StringVar(&flagOpts.TLSKey, "tls-key", "", "TLS key file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts.Config = flagOpts.Config
	if configPath := getenv("CONFIG"); configPath != "" {
		opts.Config = configPath
	}
	if opts.Config != "" {
		if err := loadFile(opts.Config, &opts, fs.Changed("config") || getenv("CONFIG") != ""); err != nil {
			return nil, err
		}
	}

	flagTargets := map[string]struct{ dst, src *string }{
		"address":           {&opts.Address, &flagOpts.Address},
		"database-dsn":      {&opts.DatabaseDSN, &flagOpts.DatabaseDSN},
		"log-level":         {&opts.LogLevel, &flagOpts.LogLevel},
		"auth-mode":         {&opts.AuthMode, &flagOpts.AuthMode},
		"auth-token-secret": {&opts.TokenSecret, &flagOpts.TokenSecret},
		"upload-backend":    {&opts.UploadBackend, &flagOpts.UploadBackend},
		"upload-dir":        {&opts.UploadDir, &flagOpts.UploadDir},
		"s3-bucket":         {&opts.S3Bucket, &flagOpts.S3Bucket},
		"s3-region":         {&opts.S3Region, &flagOpts.S3Region},
		"s3-endpoint":       {&opts.S3Endpoint, &flagOpts.S3Endpoint},
		"s3-public-url":     {&opts.S3PublicURL, &flagOpts.S3PublicURL},
		"tls-cert":          {&opts.TLSCert, &flagOpts.TLSCert},
		"tls-key":           {&opts.TLSKey, &flagOpts.TLSKey},
	}
	for name, t := range flagTargets {
		if fs.Changed(name) {
			*t.dst = *t.src
		}
	}

	envTargets := map[string]*string{
		"SERVER_ADDRESS":    &opts.Address,
		"DATABASE_DSN":      &opts.DatabaseDSN,
		"LOG_LEVEL":         &opts.LogLevel,
		"AUTH_MODE":         &opts.AuthMode,
		"AUTH_TOKEN_SECRET": &opts.TokenSecret,
		"UPLOAD_BACKEND":    &opts.UploadBackend,
		"UPLOAD_DIR":        &opts.UploadDir,
		"S3_BUCKET":         &opts.S3Bucket,
		"S3_REGION":         &opts.S3Region,
		"S3_ENDPOINT":       &opts.S3Endpoint,
		"S3_PUBLIC_URL":     &opts.S3PublicURL,
		"TLS_CERT":          &opts.TLSCert,
		"TLS_KEY":           &opts.TLSKey,
	}
	for name, dst := range envTargets {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

// loadFile merges the YAML (or JSON) file at path into opts. A missing file
// is only an error when the path was given explicitly.
func loadFile(path string, opts *Options, explicit bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error while reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, opts); err != nil {
		return fmt.Errorf("error while parsing config file: %w", err)
	}
	return nil
}

// Validate reports settings that cannot work together.
func (o *Options) Validate() error {
	switch o.AuthMode {
	case AuthHeader:
	case AuthToken:
		if o.TokenSecret == "" {
			return errors.New("auth mode token requires a token secret")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", o.AuthMode)
	}

	switch o.UploadBackend {
	case UploadLocal:
		if o.UploadDir == "" {
			return errors.New("local uploads require an upload directory")
		}
	case UploadS3:
		if o.S3Bucket == "" {
			return errors.New("s3 uploads require a bucket")
		}
	default:
		return fmt.Errorf("unknown upload backend %q", o.UploadBackend)
	}

	if (o.TLSCert == "") != (o.TLSKey == "") {
		return errors.New("tls cert and key must be set together")
	}
	return nil
}

// TLSEnabled reports whether the server should listen with HTTPS.
func (o *Options) TLSEnabled() bool {
	return o.TLSCert != "" && o.TLSKey != ""
}
