package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App     AppConfig     `json:"app"`
	MySQL   MySQLConfig   `json:"mysql"`
	Redis   RedisConfig   `json:"redis"`
	Storage StorageConfig `json:"storage"`
	CMS     CMSConfig     `json:"cms"`
	Advisor AdvisorConfig `json:"advisor"`
	Browser BrowserConfig `json:"browser"`
	Email   EmailConfig   `json:"email"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env                   string        `json:"env"`                      // 运行环境: local / prod
	LogLevel              string        `json:"log_level"`                // 日志级别: debug / info / warn / error
	HTTPAddr              string        `json:"http_addr"`                // API 服务监听地址
	JWTSecret             string        `json:"jwt_secret"`               // 会话令牌签名密钥
	SessionIdleTimeout    time.Duration `json:"session_idle_timeout"`     // 会话无操作超时（如 "30m"）
	ChatIdleNudge         time.Duration `json:"chat_idle_nudge"`          // 聊天空闲提醒间隔（如 "2m"，0 表示关闭）
	RefreshInterval       time.Duration `json:"refresh_interval"`         // 目录与金价刷新间隔（如 "10m"）
	UnitsPerPrincipalUnit int           `json:"units_per_principal_unit"` // 金价换算除数：每“两”价格 / 该值 = 每“钱(chỉ)”价格
	WorkerPoolSize        int           `json:"worker_pool_size"`         // 刷新任务 Worker 数
	QueueCapacity         int           `json:"queue_capacity"`           // 刷新任务队列容量
	ChatRateLimit         float64       `json:"chat_rate_limit"`          // 每会话聊天限流速率（token/s）
	ChatRateBurst         float64       `json:"chat_rate_burst"`          // 每会话聊天桶容量
	NudgeWindow           int           `json:"nudge_window"`             // 同一会话两次提醒的最小间隔（秒）
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 缓存配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// StorageConfig 收藏集持久化配置。
type StorageConfig struct {
	Backend string `json:"backend"` // mysql / redis
}

// CMSConfig 内容管理后台配置。
type CMSConfig struct {
	BaseURL       string        `json:"base_url"`       // API 地址（如 http://localhost:1337/api）
	ImageBaseURL  string        `json:"image_base_url"` // 图片地址前缀，为空时由 BaseURL 推导
	Token         string        `json:"token"`          // Bearer Token
	Timeout       time.Duration `json:"timeout"`        // 单次请求超时
	CatalogSource string        `json:"catalog_source"` // categories / products
}

// AdvisorConfig AI 顾问配置。
type AdvisorConfig struct {
	APIKey string `json:"api_key"` // Gemini API Key，为空时关闭 AI 顾问
	Model  string `json:"model"`   // 模型名称
}

// BrowserConfig 导出渲染使用的浏览器配置。
type BrowserConfig struct {
	BinPath  string `json:"bin_path"` // 浏览器可执行文件路径
	Headless bool   `json:"headless"` // 是否使用无头模式
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
	StaffTo   string `json:"staff_to"` // 收藏集保存后通知的店员邮箱
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault 加载配置，如果失败则返回默认配置（不报错）。
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:                   "local",
			LogLevel:              "info",
			HTTPAddr:              ":8081",
			JWTSecret:             "dev_secret_change_me",
			SessionIdleTimeout:    30 * time.Minute,
			ChatIdleNudge:         2 * time.Minute,
			RefreshInterval:       10 * time.Minute,
			UnitsPerPrincipalUnit: 10,
			WorkerPoolSize:        2,
			QueueCapacity:         16,
			ChatRateLimit:         0.5,
			ChatRateBurst:         3,
			NudgeWindow:           600,
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/kimhanh?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Storage: StorageConfig{
			Backend: "mysql",
		},
		CMS: CMSConfig{
			BaseURL:       "",
			Timeout:       15 * time.Second,
			CatalogSource: "categories",
		},
		Advisor: AdvisorConfig{
			Model: "gemini-2.5-flash",
		},
		Browser: BrowserConfig{
			Headless: true,
		},
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.JWTSecret == "" {
		cfg.App.JWTSecret = defaults.App.JWTSecret
	}
	if cfg.App.SessionIdleTimeout == 0 {
		cfg.App.SessionIdleTimeout = defaults.App.SessionIdleTimeout
	}
	if cfg.App.RefreshInterval == 0 {
		cfg.App.RefreshInterval = defaults.App.RefreshInterval
	}
	if cfg.App.UnitsPerPrincipalUnit == 0 {
		cfg.App.UnitsPerPrincipalUnit = defaults.App.UnitsPerPrincipalUnit
	}
	if cfg.App.WorkerPoolSize == 0 {
		cfg.App.WorkerPoolSize = defaults.App.WorkerPoolSize
	}
	if cfg.App.QueueCapacity == 0 {
		cfg.App.QueueCapacity = defaults.App.QueueCapacity
	}
	if cfg.App.ChatRateLimit == 0 {
		cfg.App.ChatRateLimit = defaults.App.ChatRateLimit
	}
	if cfg.App.ChatRateBurst == 0 {
		cfg.App.ChatRateBurst = defaults.App.ChatRateBurst
	}
	if cfg.App.NudgeWindow == 0 {
		cfg.App.NudgeWindow = defaults.App.NudgeWindow
	}
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaults.Storage.Backend
	}
	if cfg.CMS.Timeout == 0 {
		cfg.CMS.Timeout = defaults.CMS.Timeout
	}
	if cfg.CMS.CatalogSource == "" {
		cfg.CMS.CatalogSource = defaults.CMS.CatalogSource
	}
	if cfg.Advisor.Model == "" {
		cfg.Advisor.Model = defaults.Advisor.Model
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("cms_token", "CMS_TOKEN", "VITE_API_TOKEN")
	_ = viper.BindEnv("gemini_api_key", "GEMINI_API_KEY", "API_KEY")
	_ = viper.BindEnv("chrome_bin", "CHROME_BIN")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_SESSION_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.SessionIdleTimeout = d
		}
	}
	if v := os.Getenv("APP_CHAT_IDLE_NUDGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.ChatIdleNudge = d
		}
	}
	if v := os.Getenv("APP_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.RefreshInterval = d
		}
	}
	if v := os.Getenv("APP_UNITS_PER_PRINCIPAL_UNIT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			cfg.App.UnitsPerPrincipalUnit = i
		}
	}
	if v := os.Getenv("APP_WORKER_POOL_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.WorkerPoolSize = i
		}
	}
	if v := os.Getenv("APP_QUEUE_CAPACITY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.QueueCapacity = i
		}
	}
	if v := os.Getenv("APP_CHAT_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.ChatRateLimit = f
		}
	}
	if v := os.Getenv("APP_CHAT_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.ChatRateBurst = f
		}
	}
	if v := os.Getenv("APP_NUDGE_WINDOW"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.NudgeWindow = i
		}
	}
	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.App.JWTSecret = v
	}

	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(v))
	}

	if v := os.Getenv("CMS_BASE_URL"); v != "" {
		cfg.CMS.BaseURL = v
	} else if v := os.Getenv("VITE_API_URL"); v != "" {
		cfg.CMS.BaseURL = v
	}
	if v := os.Getenv("CMS_IMAGE_BASE_URL"); v != "" {
		cfg.CMS.ImageBaseURL = v
	}
	if v := viper.GetString("cms_token"); v != "" {
		cfg.CMS.Token = v
	}
	if v := os.Getenv("CMS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CMS.Timeout = d
		}
	}
	if v := os.Getenv("CMS_CATALOG_SOURCE"); v != "" {
		cfg.CMS.CatalogSource = v
	}

	if v := viper.GetString("gemini_api_key"); v != "" {
		cfg.Advisor.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.Advisor.Model = v
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := viper.GetString("db_host"); v != "" {
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = v + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := viper.GetString("chrome_bin"); v != "" {
		cfg.Browser.BinPath = v
	}
	if v := os.Getenv("BROWSER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Headless = b
		}
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
	if v := os.Getenv("SMTP_STAFF_TO"); v != "" {
		cfg.Email.StaffTo = v
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func defaultMySQLConfig() *mysql.Config {
	return &mysql.Config{
		User:   "root",
		Net:    "tcp",
		Addr:   "localhost:3306",
		DBName: "kimhanh",
		Params: map[string]string{
			"parseTime": "true",
			"loc":       "Local",
		},
	}
}

func parseMySQLDSN(dsn string) *mysql.Config {
	if dsn == "" {
		return defaultMySQLConfig()
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return defaultMySQLConfig()
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		SessionIdleTimeout string `json:"session_idle_timeout"`
		ChatIdleNudge      string `json:"chat_idle_nudge"`
		RefreshInterval    string `json:"refresh_interval"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.SessionIdleTimeout != "" {
		duration, err := time.ParseDuration(aux.SessionIdleTimeout)
		if err != nil {
			return fmt.Errorf("invalid session_idle_timeout format: %w", err)
		}
		a.SessionIdleTimeout = duration
	}
	if aux.ChatIdleNudge != "" {
		duration, err := time.ParseDuration(aux.ChatIdleNudge)
		if err != nil {
			return fmt.Errorf("invalid chat_idle_nudge format: %w", err)
		}
		a.ChatIdleNudge = duration
	}
	if aux.RefreshInterval != "" {
		duration, err := time.ParseDuration(aux.RefreshInterval)
		if err != nil {
			return fmt.Errorf("invalid refresh_interval format: %w", err)
		}
		a.RefreshInterval = duration
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		SessionIdleTimeout string `json:"session_idle_timeout"`
		ChatIdleNudge      string `json:"chat_idle_nudge"`
		RefreshInterval    string `json:"refresh_interval"`
		*Alias
	}{
		SessionIdleTimeout: a.SessionIdleTimeout.String(),
		ChatIdleNudge:      a.ChatIdleNudge.String(),
		RefreshInterval:    a.RefreshInterval.String(),
		Alias:              (*Alias)(&a),
	})
}

// UnmarshalJSON 支持 "15s" 形式的超时配置。
func (c *CMSConfig) UnmarshalJSON(data []byte) error {
	type Alias CMSConfig
	aux := &struct {
		Timeout string `json:"timeout"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Timeout != "" {
		duration, err := time.ParseDuration(aux.Timeout)
		if err != nil {
			return fmt.Errorf("invalid cms timeout format: %w", err)
		}
		c.Timeout = duration
	}
	return nil
}
