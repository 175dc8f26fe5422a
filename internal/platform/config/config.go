package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// NotifyModeDirect はリクエスト処理内で起動したゴルーチンから直接 SMTP 送信します。
	NotifyModeDirect = "direct"
	// NotifyModeQueue は asynq のキューへ送信タスクを登録し、worker が SMTP 送信します。
	NotifyModeQueue = "queue"

	envDevelopment = "development"
)

// Config はアプリケーション全体の設定を表現します。
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	App        AppConfig        `yaml:"app"`
	Onboarding OnboardingConfig `yaml:"onboarding"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	SMTPLocal  SMTPConfig       `yaml:"smtp_local"`
	Notify     NotifyConfig     `yaml:"notify"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig は HTTP サーバーに関する設定です。
type ServerConfig struct {
	ListenAddr         string        `yaml:"listen_addr"`
	ReadTimeout        time.Duration `yaml:"-"`
	WriteTimeout       time.Duration `yaml:"-"`
	ShutdownTimeout    time.Duration `yaml:"-"`
	ReadTimeoutRaw     string        `yaml:"read_timeout"`
	WriteTimeoutRaw    string        `yaml:"write_timeout"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout"`
}

// DatabaseConfig は PostgreSQL 接続に関する設定です。
type DatabaseConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	User               string        `yaml:"user"`
	Password           string        `yaml:"password"`
	Name               string        `yaml:"name"`
	SSLMode            string        `yaml:"ssl_mode"`
	MaxOpenConns       int           `yaml:"max_open_conns"`
	MaxIdleConns       int           `yaml:"max_idle_conns"`
	ConnMaxLifetime    time.Duration `yaml:"-"`
	ConnMaxIdleTime    time.Duration `yaml:"-"`
	ConnMaxLifetimeRaw string        `yaml:"conn_max_lifetime"`
	ConnMaxIdleTimeRaw string        `yaml:"conn_max_idle_time"`
}

// AppConfig は実行環境とフロントエンドに関する設定です。
type AppConfig struct {
	Env         string `yaml:"env"`
	FrontEndURL string `yaml:"front_end_url"`
}

// OnboardingConfig はトークン検証の振る舞いに関する設定です。
type OnboardingConfig struct {
	AllowLinkReuse bool   `yaml:"allow_link_reuse"`
	EmailSubject   string `yaml:"email_subject"`
}

// SMTPConfig は送信メールサーバーに関する設定です。
type SMTPConfig struct {
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	From       string        `yaml:"from"`
	FromName   string        `yaml:"from_name"`
	UseSSL     bool          `yaml:"use_ssl"`
	StartTLS   bool          `yaml:"start_tls"`
	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// NotifyConfig は通知の配送方式に関する設定です。
type NotifyConfig struct {
	Mode           string        `yaml:"mode"`
	RedisAddr      string        `yaml:"redis_addr"`
	Queue          string        `yaml:"queue"`
	Concurrency    int           `yaml:"concurrency"`
	SendTimeout    time.Duration `yaml:"-"`
	SendTimeoutRaw string        `yaml:"send_timeout"`
}

// LoggingConfig はログ出力に関する設定です。
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// envOverrides はデプロイ環境から与えられる値です。設定されたものだけが YAML の値を上書きします。
type envOverrides struct {
	AppEnv         string `envconfig:"APP_ENV"`
	FrontEndURL    string `envconfig:"FRONT_END_URL"`
	DBPassword     string `envconfig:"DB_PASSWORD"`
	EmailHost      string `envconfig:"EMAIL_HOST"`
	EmailPort      int    `envconfig:"EMAIL_PORT"`
	EmailUser      string `envconfig:"EMAIL_USER"`
	EmailPass      string `envconfig:"EMAIL_PASS"`
	EmailFrom      string `envconfig:"EMAIL_FROM"`
	EmailHostLocal string `envconfig:"EMAIL_HOST_LOCAL"`
	EmailPortLocal int    `envconfig:"EMAIL_PORT_LOCAL"`
	EmailUserLocal string `envconfig:"EMAIL_USER_LOCAL"`
	EmailPassLocal string `envconfig:"EMAIL_PASS_LOCAL"`
	RedisAddr      string `envconfig:"REDIS_ADDR"`
}

// Load は指定されたパスから設定ファイルを読み込み、環境変数で上書きします。
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validateAndNormalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// IsDevelopment は開発環境で動作している場合に true を返します。
func (c *Config) IsDevelopment() bool {
	return c != nil && c.App.Env == envDevelopment
}

// Mail は実行環境に応じた SMTP 設定を返します。開発環境では smtp_local を使います。
func (c *Config) Mail() SMTPConfig {
	if c.IsDevelopment() {
		return c.SMTPLocal
	}
	return c.SMTP
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("config: read environment: %w", err)
	}

	setString(&c.App.Env, env.AppEnv)
	setString(&c.App.FrontEndURL, env.FrontEndURL)
	setString(&c.Database.Password, env.DBPassword)
	setString(&c.SMTP.Host, env.EmailHost)
	setInt(&c.SMTP.Port, env.EmailPort)
	setString(&c.SMTP.Username, env.EmailUser)
	setString(&c.SMTP.Password, env.EmailPass)
	setString(&c.SMTP.From, env.EmailFrom)
	setString(&c.SMTPLocal.Host, env.EmailHostLocal)
	setInt(&c.SMTPLocal.Port, env.EmailPortLocal)
	setString(&c.SMTPLocal.Username, env.EmailUserLocal)
	setString(&c.SMTPLocal.Password, env.EmailPassLocal)
	setString(&c.Notify.RedisAddr, env.RedisAddr)

	// EMAIL_FROM は開発用 SMTP にも共通で適用する。
	if c.SMTPLocal.From == "" {
		c.SMTPLocal.From = c.SMTP.From
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func (c *Config) validateAndNormalize() error {
	if err := c.Server.validateAndNormalize(); err != nil {
		return err
	}

	db := &c.Database
	if err := db.validateAndNormalize(); err != nil {
		return err
	}

	if c.App.Env == "" {
		c.App.Env = "production"
	}
	if c.App.FrontEndURL == "" {
		return fmt.Errorf("config: app.front_end_url must be set")
	}
	if _, err := url.ParseRequestURI(c.App.FrontEndURL); err != nil {
		return fmt.Errorf("config: app.front_end_url: %w", err)
	}
	c.App.FrontEndURL = strings.TrimRight(c.App.FrontEndURL, "/")

	if c.Onboarding.EmailSubject == "" {
		c.Onboarding.EmailSubject = "Digital Onboarding"
	}

	if err := c.SMTP.normalize(); err != nil {
		return fmt.Errorf("config: smtp: %w", err)
	}
	if err := c.SMTPLocal.normalize(); err != nil {
		return fmt.Errorf("config: smtp_local: %w", err)
	}
	mailBlock := "smtp"
	if c.IsDevelopment() {
		mailBlock = "smtp_local"
	}
	if err := c.Mail().validate(); err != nil {
		return fmt.Errorf("config: %s: %w", mailBlock, err)
	}

	if err := c.Notify.validateAndNormalize(); err != nil {
		return err
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

func (s *ServerConfig) validateAndNormalize() error {
	if s.ListenAddr == "" {
		return fmt.Errorf("config: server.listen_addr must be set")
	}

	var err error
	if s.ReadTimeout, err = parseDurationDefault(s.ReadTimeoutRaw, 15*time.Second); err != nil {
		return fmt.Errorf("config: server.read_timeout: %w", err)
	}
	if s.WriteTimeout, err = parseDurationDefault(s.WriteTimeoutRaw, 15*time.Second); err != nil {
		return fmt.Errorf("config: server.write_timeout: %w", err)
	}
	if s.ShutdownTimeout, err = parseDurationDefault(s.ShutdownTimeoutRaw, 10*time.Second); err != nil {
		return fmt.Errorf("config: server.shutdown_timeout: %w", err)
	}
	return nil
}

func (d *DatabaseConfig) validateAndNormalize() error {
	if d.Host == "" {
		return fmt.Errorf("config: database.host must be set")
	}
	if d.Port == 0 {
		return fmt.Errorf("config: database.port must be set")
	}
	if d.User == "" {
		return fmt.Errorf("config: database.user must be set")
	}
	if d.Password == "" {
		return fmt.Errorf("config: database.password must be set")
	}
	if d.Name == "" {
		return fmt.Errorf("config: database.name must be set")
	}
	if d.SSLMode == "" {
		d.SSLMode = "disable"
	}

	lifetime, err := parseDurationAllowEmpty(d.ConnMaxLifetimeRaw)
	if err != nil {
		return fmt.Errorf("config: database.conn_max_lifetime: %w", err)
	}
	d.ConnMaxLifetime = lifetime

	idleTime, err := parseDurationAllowEmpty(d.ConnMaxIdleTimeRaw)
	if err != nil {
		return fmt.Errorf("config: database.conn_max_idle_time: %w", err)
	}
	d.ConnMaxIdleTime = idleTime

	return nil
}

func (s *SMTPConfig) normalize() error {
	timeout, err := parseDurationDefault(s.TimeoutRaw, 30*time.Second)
	if err != nil {
		return fmt.Errorf("timeout: %w", err)
	}
	s.Timeout = timeout
	return nil
}

func (s SMTPConfig) validate() error {
	if s.Host == "" {
		return fmt.Errorf("host must be set")
	}
	if s.Port == 0 {
		return fmt.Errorf("port must be set")
	}
	if s.From == "" {
		return fmt.Errorf("from must be set")
	}
	return nil
}

// Addr は host:port 形式のアドレスを返します。
func (s SMTPConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (n *NotifyConfig) validateAndNormalize() error {
	switch n.Mode {
	case "":
		n.Mode = NotifyModeDirect
	case NotifyModeDirect, NotifyModeQueue:
	default:
		return fmt.Errorf("config: notify.mode %q is not supported", n.Mode)
	}

	if n.Mode == NotifyModeQueue && n.RedisAddr == "" {
		return fmt.Errorf("config: notify.redis_addr must be set when notify.mode is %s", NotifyModeQueue)
	}
	if n.Queue == "" {
		n.Queue = "default"
	}
	if n.Concurrency <= 0 {
		n.Concurrency = 5
	}

	timeout, err := parseDurationDefault(n.SendTimeoutRaw, time.Minute)
	if err != nil {
		return fmt.Errorf("config: notify.send_timeout: %w", err)
	}
	n.SendTimeout = timeout
	return nil
}

func parseDurationAllowEmpty(raw string) (time.Duration, error) {
	return parseDurationDefault(raw, 0)
}

func parseDurationDefault(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	return d, nil
}

// DSN は pgx 用の接続文字列を返します。
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}
