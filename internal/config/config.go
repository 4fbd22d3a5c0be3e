package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/example/srt-scheduler/internal/auth"
	"github.com/example/srt-scheduler/internal/browser"
	"github.com/example/srt-scheduler/internal/domain/reservation"
	"github.com/example/srt-scheduler/internal/engine"
	"github.com/example/srt-scheduler/internal/jobs"
	"github.com/example/srt-scheduler/internal/logger"
	"github.com/example/srt-scheduler/internal/notify"
)

// PathEnv names the optional YAML tuning file.
const PathEnv = "SRTSCHED_CONFIG"

type Telegram struct {
	Token  string
	ChatID string
	APIURL string
}

type Config struct {
	ListenAddr string

	// AppPasswordHash is the bcrypt hash of the shared app password.
	AppPasswordHash string
	CookieHashKey   []byte
	CookieBlockKey  []byte

	Telegram Telegram
	VAPID    notify.VAPID

	Log           logger.Config
	LogRetention  time.Duration
	LogMaxEntries int

	// Engine and Browser may also be tuned from the YAML file.
	Engine  engine.Config
	Browser browser.Options
}

// fileConfig is the shape of the YAML tuning file.
type fileConfig struct {
	Engine  *engine.Config   `yaml:"engine"`
	Browser *browser.Options `yaml:"browser"`
	Log     *logger.Config   `yaml:"log"`
}

func defaults() Config {
	return Config{
		ListenAddr:   ":3000",
		Engine:       engine.DefaultConfig(),
		Browser:      browser.DefaultOptions(),
		Log:          logger.Config{Level: "info"},
		LogRetention: time.Hour,
	}
}

// LoadDotEnv reads .env into the environment unless running on a hosted platform,
// where the platform injects variables itself. A missing file is not an error.
func LoadDotEnv() error {
	if os.Getenv("RAILWAY_ENVIRONMENT") != "" || os.Getenv("RAILWAY_STATIC_URL") != "" {
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// FromEnv builds the configuration from the environment, overlaying the YAML file named by
// SRTSCHED_CONFIG when set.
func FromEnv() (Config, error) {
	return Load(os.Getenv(PathEnv))
}

// Load applies, in order: defaults, the YAML file at path (if any), then the environment.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	fc := fileConfig{Engine: &c.Engine, Browser: &c.Browser, Log: &c.Log}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.ListenAddr = getenv("LISTEN_ADDR", c.ListenAddr)
	if port := os.Getenv("PORT"); port != "" && os.Getenv("LISTEN_ADDR") == "" {
		c.ListenAddr = ":" + port
	}

	switch hash, plain := os.Getenv("APP_PASSWORD_BCRYPT"), os.Getenv("APP_PASSWORD"); {
	case hash != "":
		c.AppPasswordHash = hash
	case plain != "":
		h, err := auth.HashPassword(plain)
		if err != nil {
			return fmt.Errorf("hash APP_PASSWORD: %w", err)
		}
		c.AppPasswordHash = h
	}

	var err error
	if c.CookieHashKey, err = cookieKey("COOKIE_HASH_KEY", 32); err != nil {
		return err
	}
	if c.CookieBlockKey, err = cookieKey("COOKIE_BLOCK_KEY", 32); err != nil {
		return err
	}

	c.Telegram = Telegram{
		Token:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		ChatID: os.Getenv("TELEGRAM_CHAT_ID"),
		APIURL: os.Getenv("TELEGRAM_API_URL"),
	}
	c.VAPID = notify.VAPID{
		PublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		PrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		Subject:    getenv("VAPID_SUBJECT", "mailto:admin@example.com"),
	}

	if v := os.Getenv("BROWSER_HEADLESS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid BROWSER_HEADLESS: %w", err)
		}
		c.Browser.Headless = b
	}
	c.Browser.ExecPath = getenv("CHROME_PATH", c.Browser.ExecPath)

	if c.Engine.MaxDuration, err = duration("JOB_MAX_DURATION", c.Engine.MaxDuration); err != nil {
		return err
	}
	if c.LogRetention, err = duration("LOG_RETENTION", c.LogRetention); err != nil {
		return err
	}
	if v := os.Getenv("LOG_MAX_ENTRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid LOG_MAX_ENTRIES")
		}
		c.LogMaxEntries = n
	}

	c.Log.Level = getenv("LOG_LEVEL", c.Log.Level)
	if v := os.Getenv("LOG_DEVELOPMENT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LOG_DEVELOPMENT: %w", err)
		}
		c.Log.Development = b
	}
	return nil
}

// Retention is the job log policy: an age window, a count bound, or both.
func (c Config) Retention() jobs.Retention {
	var r jobs.Both
	if c.LogRetention > 0 {
		r = append(r, jobs.MaxAge(c.LogRetention))
	}
	if c.LogMaxEntries > 0 {
		r = append(r, jobs.MaxCount(c.LogMaxEntries))
	}
	switch len(r) {
	case 0:
		return jobs.DefaultRetention
	case 1:
		return r[0]
	}
	return r
}

// ReserveInput reads a reservation request from the variables the one-shot command uses.
func ReserveInput() reservation.Input {
	return reservation.Input{
		MemberID:      os.Getenv("SRT_ID"),
		Password:      os.Getenv("SRT_PW"),
		Departure:     os.Getenv("DEPARTURE"),
		Arrival:       os.Getenv("ARRIVAL"),
		Date:          os.Getenv("DATE"),
		Hour:          os.Getenv("TIME"),
		DepartureTime: os.Getenv("DEPART_TIME"),
	}
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s: want a duration like 90m", key)
	}
	return d, nil
}

// cookieKey decodes a base64 key from the environment, or generates one. Generated keys
// invalidate remembered sessions on restart.
func cookieKey(key string, size int) ([]byte, error) {
	v := os.Getenv(key)
	if v == "" {
		return securecookie.GenerateRandomKey(size), nil
	}
	b, err := decodeB64(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func decodeB64(s string) ([]byte, error) {
	if b, err := os.ReadFile(s); err == nil {
		// allow pointing to a file for mounted secrets
		s = string(b)
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
