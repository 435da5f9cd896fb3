package mapproxy

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/jub0bs/cors"
	"gopkg.in/yaml.v3"
)

// DefaultOrigins are always allowed, in addition to ALLOWED_ORIGINS.
var DefaultOrigins = []string{
	"https://lagrange-data.netlify.app",
	"https://yosuzuk.github.io",
}

const (
	EncodingForm      = "form"
	EncodingMultipart = "multipart"

	TokenSourceCookie   = "cookie"
	TokenSourceDocument = "document"
)

// Config holds everything the proxy needs. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	UpstreamURL string `yaml:"upstream"`

	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`

	// RequireAccessSecret turns on privileged reads. Loads are then rejected
	// with 401 unless AccessSecret is set.
	RequireAccessSecret bool   `yaml:"require_access_secret"`
	AccessSecret        string `yaml:"access_secret,omitempty"`

	// ReadOnly drops PUT from the advertised and accepted methods.
	ReadOnly bool `yaml:"read_only"`

	EditEncoding string `yaml:"edit_encoding"`
	TokenSource  string `yaml:"csrf_source"`
	CookieName   string `yaml:"csrf_cookie"`

	// Timeout in seconds for each upstream call. 0 disables the client timeout.
	Timeout   int    `yaml:"timeout"`
	UserAgent string `yaml:"user_agent"`
	LogURLs   bool   `yaml:"log_urls"`
}

func DefaultConfig() Config {
	return Config{
		UpstreamURL:  "https://rentry.co",
		EditEncoding: EncodingForm,
		TokenSource:  TokenSourceCookie,
		CookieName:   "csrftoken",
		Timeout:      15,
		UserAgent:    "mapproxy/1.0",
	}
}

// LoadConfig builds a Config from the defaults, the optional YAML file at path
// and the environment, in that order.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		yamlFile, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := yaml.Unmarshal(yamlFile, &cfg); err != nil {
			return Config{}, fmt.Errorf("syntax error in config file '%s': %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs *multierror.Error

	if v, ok := lookup("UPSTREAM_URL"); ok && v != "" {
		c.UpstreamURL = v
	}
	if v, ok := lookup("RENTRY_AUTH"); ok {
		c.AccessSecret = v
	}
	if v, ok := lookup("ALLOWED_ORIGINS"); ok && v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, origin)
			}
		}
	}
	if v, ok := lookup("EDIT_ENCODING"); ok && v != "" {
		c.EditEncoding = v
	}
	if v, ok := lookup("CSRF_SOURCE"); ok && v != "" {
		c.TokenSource = v
	}
	if v, ok := lookup("CSRF_COOKIE"); ok && v != "" {
		c.CookieName = v
	}
	if v, ok := lookup("USER_AGENT"); ok && v != "" {
		c.UserAgent = v
	}

	for key, dst := range map[string]*bool{
		"REQUIRE_ACCESS_SECRET": &c.RequireAccessSecret,
		"READ_ONLY":             &c.ReadOnly,
		"LOG_URLS":              &c.LogURLs,
	} {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		*dst = b
	}

	if v, ok := lookup("HTTP_TIMEOUT"); ok && v != "" {
		timeout, err := strconv.Atoi(v)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("HTTP_TIMEOUT: %w", err))
		} else {
			c.Timeout = timeout
		}
	}

	return errs.ErrorOrNil()
}

// Origins returns the full allow-list: configured extras first, then the
// defaults.
func (c Config) Origins() []string {
	origins := make([]string, 0, len(c.AllowedOrigins)+len(DefaultOrigins))
	origins = append(origins, c.AllowedOrigins...)
	return append(origins, DefaultOrigins...)
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs *multierror.Error

	u, err := url.Parse(c.UpstreamURL)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("upstream: %w", err))
	} else if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = multierror.Append(errs, fmt.Errorf("upstream: %q is not an absolute http(s) URL", c.UpstreamURL))
	}

	switch c.EditEncoding {
	case EncodingForm, EncodingMultipart:
	default:
		errs = multierror.Append(errs, fmt.Errorf("edit_encoding: unknown encoding %q", c.EditEncoding))
	}

	switch c.TokenSource {
	case TokenSourceCookie, TokenSourceDocument:
	default:
		errs = multierror.Append(errs, fmt.Errorf("csrf_source: unknown source %q", c.TokenSource))
	}

	if c.CookieName == "" {
		errs = multierror.Append(errs, fmt.Errorf("csrf_cookie: must not be empty"))
	}
	if c.Timeout < 0 {
		errs = multierror.Append(errs, fmt.Errorf("timeout: must not be negative, got %d", c.Timeout))
	}

	// Browsers send origins in serialized form only, so anything the cors
	// package rejects could never match exactly.
	if _, err := cors.NewMiddleware(cors.Config{Origins: c.Origins()}); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("allowed_origins: %w", err))
	}

	return errs.ErrorOrNil()
}
