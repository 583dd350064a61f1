package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spearlab/phishtrack/log"

	"github.com/spf13/viper"
)

type GeneralConfig struct {
	Domain          string `mapstructure:"domain" json:"domain" yaml:"domain"`
	BindIpv4        string `mapstructure:"bind_ipv4" json:"bind_ipv4" yaml:"bind_ipv4"`
	HttpsPort       int    `mapstructure:"https_port" json:"https_port" yaml:"https_port"`
	Autocert        bool   `mapstructure:"autocert" json:"autocert" yaml:"autocert"`
	InternalAPIPort int    `mapstructure:"internal_api_port" json:"internal_api_port" yaml:"internal_api_port"`
}

type TrackerConfig struct {
	BaseURL            string `mapstructure:"base_url" json:"base_url" yaml:"base_url"`
	TokenLifetimeHours int    `mapstructure:"token_lifetime_hours" json:"token_lifetime_hours" yaml:"token_lifetime_hours"`
	DispatchMode       string `mapstructure:"dispatch_mode" json:"dispatch_mode" yaml:"dispatch_mode"`
	IPHashSalt         string `mapstructure:"ip_hash_salt" json:"ip_hash_salt" yaml:"ip_hash_salt"`
}

type SigningKeyConfig struct {
	Version int    `mapstructure:"version" json:"version" yaml:"version"`
	Secret  string `mapstructure:"secret" json:"secret" yaml:"secret"`
}

type TrainingConfig struct {
	WebhookURL string            `mapstructure:"webhook_url" json:"webhook_url" yaml:"webhook_url"`
	Scenarios  map[string]string `mapstructure:"scenarios" json:"scenarios" yaml:"scenarios"`
}

type Config struct {
	general     *GeneralConfig
	tracker     *TrackerConfig
	training    *TrainingConfig
	signingKeys []*SigningKeyConfig
	cfg         *viper.Viper
}

const (
	CFG_GENERAL      = "general"
	CFG_TRACKER      = "tracker"
	CFG_TRAINING     = "training"
	CFG_SIGNING_KEYS = "signing_keys"
)

const (
	DEFAULT_HTTPS_PORT       = 443
	DEFAULT_INTERNAL_PORT    = 1337
	DEFAULT_TOKEN_LIFETIME_H = 24 * 14
)

func NewConfig(cfg_dir string, path string) (*Config, error) {
	c := &Config{
		general:  &GeneralConfig{},
		tracker:  &TrackerConfig{},
		training: &TrainingConfig{},
	}

	c.cfg = viper.New()
	c.cfg.SetConfigType("json")

	if path == "" {
		path = filepath.Join(cfg_dir, "config.json")
	}
	err := os.MkdirAll(filepath.Dir(path), os.FileMode(0700))
	if err != nil {
		return nil, err
	}
	var created_cfg bool = false
	c.cfg.SetConfigFile(path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		created_cfg = true
		err = c.cfg.WriteConfigAs(path)
		if err != nil {
			return nil, err
		}
	}

	err = c.cfg.ReadInConfig()
	if err != nil {
		return nil, err
	}

	c.cfg.UnmarshalKey(CFG_GENERAL, &c.general)
	if c.general.HttpsPort == 0 {
		c.general.HttpsPort = DEFAULT_HTTPS_PORT
		c.cfg.Set(CFG_GENERAL, c.general)
	}
	if c.general.InternalAPIPort == 0 {
		c.general.InternalAPIPort = DEFAULT_INTERNAL_PORT
		c.cfg.Set(CFG_GENERAL, c.general)
	}
	if c.cfg.Get("general.autocert") == nil {
		c.general.Autocert = true
		c.cfg.Set(CFG_GENERAL, c.general)
	}

	c.cfg.UnmarshalKey(CFG_TRACKER, &c.tracker)
	if c.tracker.TokenLifetimeHours == 0 && created_cfg {
		c.tracker.TokenLifetimeHours = DEFAULT_TOKEN_LIFETIME_H
	}
	if !stringExists(c.tracker.DispatchMode, DISPATCH_MODES) {
		c.tracker.DispatchMode = DispatchPerThreshold
	}
	if c.tracker.IPHashSalt == "" {
		c.tracker.IPHashSalt = GenRandomToken()
	}
	c.cfg.Set(CFG_TRACKER, c.tracker)

	c.cfg.UnmarshalKey(CFG_TRAINING, &c.training)
	if len(c.training.Scenarios) == 0 {
		c.training.Scenarios = DefaultScenarios()
		c.cfg.Set(CFG_TRAINING, c.training)
	}

	c.cfg.UnmarshalKey(CFG_SIGNING_KEYS, &c.signingKeys)
	if len(c.signingKeys) == 0 {
		c.signingKeys = []*SigningKeyConfig{{Version: 1, Secret: GenRandomToken()}}
		c.cfg.Set(CFG_SIGNING_KEYS, c.signingKeys)
		log.Info("generated initial signing key (v1)")
	}

	c.cfg.WriteConfig()
	return c, nil
}

func (c *Config) SetBaseDomain(domain string) {
	c.general.Domain = domain
	c.cfg.Set(CFG_GENERAL, c.general)
	log.Info("base domain set to: %s", domain)
	c.cfg.WriteConfig()
}

func (c *Config) SetServerBindIP(ip_addr string) {
	c.general.BindIpv4 = ip_addr
	c.cfg.Set(CFG_GENERAL, c.general)
	c.cfg.WriteConfig()
}

func (c *Config) SetHttpsPort(port int) {
	c.general.HttpsPort = port
	c.cfg.Set(CFG_GENERAL, c.general)
	c.cfg.WriteConfig()
}

func (c *Config) EnableAutocert(enabled bool) {
	c.general.Autocert = enabled
	c.cfg.Set(CFG_GENERAL, c.general)
	c.cfg.WriteConfig()
}

func (c *Config) SetBaseURL(base_url string) {
	c.tracker.BaseURL = base_url
	c.cfg.Set(CFG_TRACKER, c.tracker)
	c.cfg.WriteConfig()
}

func (c *Config) SetTokenLifetimeHours(hours int) {
	c.tracker.TokenLifetimeHours = hours
	c.cfg.Set(CFG_TRACKER, c.tracker)
	c.cfg.WriteConfig()
}

func (c *Config) SetDispatchMode(mode string) error {
	if !stringExists(mode, DISPATCH_MODES) {
		return fmt.Errorf("unknown dispatch mode: %s", mode)
	}
	c.tracker.DispatchMode = mode
	c.cfg.Set(CFG_TRACKER, c.tracker)
	c.cfg.WriteConfig()
	return nil
}

func (c *Config) SetTrainingWebhookURL(webhook_url string) {
	c.training.WebhookURL = webhook_url
	c.cfg.Set(CFG_TRAINING, c.training)
	c.cfg.WriteConfig()
}

func (c *Config) SetScenarioKey(scenario string, key_base string) {
	if c.training.Scenarios == nil {
		c.training.Scenarios = make(map[string]string)
	}
	c.training.Scenarios[scenario] = key_base
	c.cfg.Set(CFG_TRAINING, c.training)
	c.cfg.WriteConfig()
}

// AddSigningKey appends a new key version to the config and returns it.
// Old versions are kept so unexpired tokens stay valid.
func (c *Config) AddSigningKey() *SigningKeyConfig {
	version := 0
	for _, k := range c.signingKeys {
		if k.Version > version {
			version = k.Version
		}
	}
	k := &SigningKeyConfig{Version: version + 1, Secret: GenRandomToken()}
	c.signingKeys = append(c.signingKeys, k)
	c.cfg.Set(CFG_SIGNING_KEYS, c.signingKeys)
	c.cfg.WriteConfig()
	log.Info("rotated signing key, active version is now v%d", k.Version)
	return k
}

func (c *Config) GetSigningKeys() []SigningKey {
	keys := []SigningKey{}
	for _, k := range c.signingKeys {
		keys = append(keys, SigningKey{Version: k.Version, Secret: []byte(k.Secret)})
	}
	return keys
}

func (c *Config) GetBaseDomain() string {
	return c.general.Domain
}

func (c *Config) GetServerBindIP() string {
	return c.general.BindIpv4
}

func (c *Config) GetHttpsPort() int {
	return c.general.HttpsPort
}

func (c *Config) GetInternalAPIPort() int {
	return c.general.InternalAPIPort
}

func (c *Config) IsAutocertEnabled() bool {
	return c.general.Autocert
}

// GetBaseURL is the public prefix tracking links are minted under. An
// explicit base_url wins; otherwise it is derived from the domain.
func (c *Config) GetBaseURL() string {
	if c.tracker.BaseURL != "" {
		return c.tracker.BaseURL
	}
	if c.general.Domain == "" {
		return fmt.Sprintf("http://127.0.0.1:%d", c.general.HttpsPort)
	}
	if c.general.HttpsPort == DEFAULT_HTTPS_PORT {
		return "https://" + c.general.Domain
	}
	return fmt.Sprintf("https://%s:%d", c.general.Domain, c.general.HttpsPort)
}

func (c *Config) GetTokenLifetime() time.Duration {
	return time.Duration(c.tracker.TokenLifetimeHours) * time.Hour
}

func (c *Config) GetDispatchMode() string {
	return c.tracker.DispatchMode
}

func (c *Config) GetIPHashSalt() string {
	return c.tracker.IPHashSalt
}

func (c *Config) GetTrainingWebhookURL() string {
	return c.training.WebhookURL
}

func (c *Config) GetScenarios() map[string]string {
	return c.training.Scenarios
}
