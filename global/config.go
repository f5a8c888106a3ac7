package global

import (
	"crypto/ed25519"
	"os"

	"github.com/go-redis/redis_rate/v10"
	"gopkg.in/yaml.v3"
)

// Conf global config
var Conf Config

// Public and Private key of the server (loaded from serverKeysPath in conf.yaml),
// used for signing and verifying session tokens
var PublicKey ed25519.PublicKey
var PrivateKey ed25519.PrivateKey
var ServerKeysCreated int64

// Global rate limiter
var RateLimiter *redis_rate.Limiter

type Config struct {
	Host         string            `yaml:"host"`
	Port         int               `yaml:"port"`
	Scheme       string            `yaml:"scheme"`
	Mode         string            `yaml:"mode"` // debug or release
	ServerDomain string            `yaml:"serverDomain"`
	CouchDB      CouchDBConfig     `yaml:"couchdb"`
	Redis        RedisConfig       `yaml:"redis"`
	Queue        QueueConfig       `yaml:"queue"`
	Prometheus   PrometheusConfig  `yaml:"prometheus"`
	Auth         AuthConfig        `yaml:"auth"`
	Storage      StorageConfig     `yaml:"storage"`
	Provisioner  ProvisionerConfig `yaml:"provisioner"`
}

type CouchDBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Scheme   string `yaml:"scheme"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	Username string `yaml:"username"`
}

type QueueConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type PrometheusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// AuthConfig drives the challenge and session token lifetimes and the
// mail-secret derivation parameters. EmailSaltHex blinds email addresses
// before they are used as lookup keys; MailSaltHex and DerivationVersion
// are the process-wide inputs of the mail password derivation.
type AuthConfig struct {
	ServerKeysPath        string `yaml:"serverKeysPath"`
	ChallengeTTLMinutes   int    `yaml:"challengeTTLMinutes"`
	AccessTokenTTLMinutes int    `yaml:"accessTokenTTLMinutes"`
	RefreshTokenTTLHours  int    `yaml:"refreshTokenTTLHours"`
	EmailSaltHex          string `yaml:"emailSaltHex"`
	MailSaltHex           string `yaml:"mailSaltHex"`
	DerivationVersion     string `yaml:"derivationVersion"`
}

type StorageConfig struct {
	Type   string `yaml:"type"`
	Key    string `yaml:"key"`
	Secret string `yaml:"secret"`
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
}

// ProvisionerConfig points at the mail-admin webhook that creates
// IMAP accounts on the Postfix/Dovecot side.
type ProvisionerConfig struct {
	WebhookURL string `yaml:"webhookurl"`
	WebhookKey string `yaml:"webhookkey"`
}

// LoadConfig reads a yaml configuration file into conf and applies defaults.
func LoadConfig(path string, conf *Config) error {
	confBytes, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(confBytes, conf); err != nil {
		return err
	}
	if conf.Scheme == "" {
		conf.Scheme = "http"
	}
	if conf.Mode == "" {
		conf.Mode = "release"
	}
	if conf.Auth.ChallengeTTLMinutes == 0 {
		conf.Auth.ChallengeTTLMinutes = 10
	}
	if conf.Auth.AccessTokenTTLMinutes == 0 {
		conf.Auth.AccessTokenTTLMinutes = 60
	}
	if conf.Auth.RefreshTokenTTLHours == 0 {
		conf.Auth.RefreshTokenTTLHours = 7 * 24
	}
	if conf.Auth.DerivationVersion == "" {
		conf.Auth.DerivationVersion = "v1"
	}
	return nil
}
