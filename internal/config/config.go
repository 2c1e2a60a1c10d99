package config

import (
	"fmt"
	"linkgate/entity"
	"log"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Listen struct {
	BindIp string `yaml:"bind_ip" env-default:"0.0.0.0"`
	Port   string `yaml:"port" env:"PORT" env-default:"8443"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	ApiKey  string `yaml:"api_key" env:"TELEGRAM_TOKEN" env-default:""`
	// AdminIds bypass the membership gate and receive error reports.
	AdminIds []int64 `yaml:"admin_ids" env:"ADMIN_USER_ID" env-separator:","`
	// RequiredGroups must all report the principal as a member.
	RequiredGroups []int64 `yaml:"required_groups" env:"SUPPORT_CHANNEL_ID" env-separator:","`
}

type MongoConfig struct {
	Enabled        bool   `yaml:"enabled" env-default:"false"`
	Uri            string `yaml:"uri" env:"MONGODB_URI" env-default:""`
	Host           string `yaml:"host" env-default:"127.0.0.1"`
	Port           string `yaml:"port" env-default:"27017"`
	User           string `yaml:"user" env-default:""`
	Password       string `yaml:"password" env-default:""`
	Database       string `yaml:"database" env-default:"protected_bot_db"`
	MemoryFallback bool   `yaml:"memory_fallback" env-default:"false"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env-default:"false"`
	Host     string `yaml:"host" env-default:"127.0.0.1"`
	Port     int    `yaml:"port" env-default:"6379"`
	Password string `yaml:"password" env-default:""`
	DB       int    `yaml:"db" env-default:"0"`
}

type GateConfig struct {
	Captcha           bool          `yaml:"captcha" env-default:"false"`
	SessionTTL        time.Duration `yaml:"session_ttl" env-default:"30m"`
	ChallengeTTL      time.Duration `yaml:"challenge_ttl" env-default:"5m"`
	LinkTTL           time.Duration `yaml:"link_ttl" env-default:"720h"`
	MaxAttempts       int           `yaml:"max_attempts" env-default:"3"`
	InviteTTL         time.Duration `yaml:"invite_ttl" env-default:"24h"`
	MembershipTimeout time.Duration `yaml:"membership_timeout" env-default:"5s"`
	ReapInterval      time.Duration `yaml:"reap_interval" env-default:"1m"`
}

type ApiConfig struct {
	Keys       []entity.ApiKey `yaml:"keys"`
	RateLimit  int             `yaml:"rate_limit" env-default:"60"`
	RateWindow time.Duration   `yaml:"rate_window" env-default:"1m"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type Config struct {
	Env       string         `yaml:"env" env-default:"local"`
	Listen    Listen         `yaml:"listen"`
	PublicUrl string         `yaml:"public_url" env:"PUBLIC_URL" env-default:"http://localhost:8443"`
	Telegram  TelegramConfig `yaml:"telegram"`
	Mongo     MongoConfig    `yaml:"mongo"`
	Redis     RedisConfig    `yaml:"redis"`
	Gate      GateConfig     `yaml:"gate"`
	Api       ApiConfig      `yaml:"api"`
	Metrics   MetricsConfig  `yaml:"metrics"`
}

var instance *Config
var once sync.Once

func MustLoad(path string) *Config {
	var err error
	once.Do(func() {
		instance, err = Load(path)
		if err != nil {
			log.Fatal(err)
		}
	})
	return instance
}

// Load reads the yaml file at path, then applies environment overrides.
func Load(path string) (*Config, error) {
	conf := &Config{}
	if err := cleanenv.ReadConfig(path, conf); err != nil {
		desc, _ := cleanenv.GetDescription(conf, nil)
		return nil, fmt.Errorf("config: %s; %s", err, desc)
	}
	if err := conf.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return conf, nil
}

func (c *Config) validate() error {
	if c.Telegram.Enabled && c.Telegram.ApiKey == "" {
		return fmt.Errorf("telegram.api_key is required when telegram is enabled")
	}
	if c.Gate.MaxAttempts < 1 {
		return fmt.Errorf("gate.max_attempts must be positive")
	}
	if c.Gate.SessionTTL <= 0 || c.Gate.ChallengeTTL <= 0 {
		return fmt.Errorf("gate ttl values must be positive")
	}
	return nil
}

func (c *Config) IsAdmin(id int64) bool {
	for _, a := range c.Telegram.AdminIds {
		if a == id {
			return true
		}
	}
	return false
}
