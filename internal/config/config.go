package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/silencecat2007/pokepark-kanto/internal/crawler"
	"github.com/silencecat2007/pokepark-kanto/internal/pipeline"
)

const DefaultPath = "configs/config.json"

// Config 保存应用程序配置。
type Config struct {
	App     AppConfig     `json:"app"`
	Scrape  ScrapeConfig  `json:"scrape"`
	Catalog CatalogConfig `json:"catalog"`
	Browser BrowserConfig `json:"browser"`
	Redis   RedisConfig   `json:"redis"`
	MySQL   MySQLConfig   `json:"mysql"`
	Email   EmailConfig   `json:"email"`
	Metrics MetricsConfig `json:"metrics"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env        string `json:"env"`         // 运行环境: local / prod
	LogLevel   string `json:"log_level"`   // 日志级别: debug / info / warn / error
	HTTPAddr   string `json:"http_addr"`   // API 服务监听地址
	OutputPath string `json:"output_path"` // 快照文件路径
	Schedule   string `json:"schedule"`    // cron 表达式，为空时只运行一次
}

// ScrapeConfig 抓取参数。
type ScrapeConfig struct {
	Backend       string   `json:"backend"` // browser / static
	Keywords      []string `json:"keywords"`
	StatusFilters []string `json:"status_filters"`
	SearchBase    string   `json:"search_base"`
	Sort          string   `json:"sort"`
	Order         string   `json:"order"`

	MaxLinksPerSearch int `json:"max_links_per_search"`
	MaxIdleLoads      int `json:"max_idle_loads"`
	MaxItemVisits     int `json:"max_item_visits"` // 整次运行打开商品页的上限

	DelayEnabled      bool     `json:"delay_enabled"`
	DelayMin          Duration `json:"delay_min"`
	DelayMax          Duration `json:"delay_max"`
	RequestsPerSecond float64  `json:"requests_per_second"` // 本地令牌桶，0 表示关闭
	Burst             int      `json:"burst"`

	// 多个抓取进程共享的 Redis 令牌桶，需要 Redis，0 表示关闭
	GlobalRate  float64 `json:"global_rate"`
	GlobalBurst float64 `json:"global_burst"`

	DedupTTL Duration `json:"dedup_ttl"` // Redis 已访问集合的过期时间
	// 已访问集合的命名空间。多个进程设为相同值时共享集合，为空时每次运行独立
	VisitedNamespace string `json:"visited_namespace"`

	SoldMarkers   []string `json:"sold_markers"`
	ActiveMarkers []string `json:"active_markers"`
}

// CatalogConfig 图鉴来源。
type CatalogConfig struct {
	SourceURL string   `json:"source_url"` // 为空时使用内置图鉴；可以是 http(s) 地址或文件路径
	CacheTTL  Duration `json:"cache_ttl"`
}

// BrowserConfig 爬虫浏览器配置。
type BrowserConfig struct {
	BinPath     string   `json:"bin_path"`  // 浏览器可执行文件路径
	ProxyURL    string   `json:"proxy_url"` // 代理服务器 URL
	Headless    bool     `json:"headless"`  // 是否使用无头模式
	UserAgent   string   `json:"user_agent"`
	PageTimeout Duration `json:"page_timeout"` // 单次导航/读取超时
}

// RedisConfig Redis 配置。Addr 为空时不使用 Redis。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// MySQLConfig MySQL 镜像配置。DSN 为空时不写数据库。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost        string   `json:"smtp_host"`
	SMTPPort        int      `json:"smtp_port"`
	SMTPUser        string   `json:"smtp_user"`
	SMTPPass        string   `json:"smtp_pass"`
	FromEmail       string   `json:"from_email"`
	To              []string `json:"to"`
	NotifyOnSuccess bool     `json:"notify_on_success"` // 为 false 时只发送中止通知
}

// MetricsConfig 指标推送配置。
type MetricsConfig struct {
	PushgatewayURL string `json:"pushgateway_url"`
	Job            string `json:"job"`
}

// Duration 在 JSON 中以字符串表示（如 "45s"），也接受整数纳秒。
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			*d = 0
			return nil
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	*d = Duration(n)
	return nil
}

// Load 从 JSON 文件加载配置。
//
// 文件不存在时使用默认值。之后依次应用默认值与环境变量覆盖，最后校验。
func Load(configPath ...string) (*Config, error) {
	path := DefaultPath
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	cfg := getDefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// 即使没有配置文件，也允许环境变量覆盖默认值
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		cfg = &Config{Scrape: ScrapeConfig{DelayEnabled: true}, Browser: BrowserConfig{Headless: true}}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		applyDefaults(cfg)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save 保存配置到 JSON 文件。
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate 检查互相矛盾或无法使用的配置。
func (c *Config) Validate() error {
	switch c.Scrape.Backend {
	case crawler.BackendBrowser, crawler.BackendStatic:
	default:
		return fmt.Errorf("scrape.backend must be %q or %q, got %q", crawler.BackendBrowser, crawler.BackendStatic, c.Scrape.Backend)
	}
	if c.Scrape.DelayMin < 0 || c.Scrape.DelayMax < c.Scrape.DelayMin {
		return fmt.Errorf("scrape.delay_min (%s) must be <= scrape.delay_max (%s)", c.Scrape.DelayMin.Std(), c.Scrape.DelayMax.Std())
	}
	if c.Scrape.MaxItemVisits < 0 {
		return fmt.Errorf("scrape.max_item_visits must not be negative")
	}
	if c.Browser.PageTimeout <= 0 {
		return fmt.Errorf("browser.page_timeout must be positive")
	}
	if c.App.Schedule != "" {
		if _, err := cron.ParseStandard(c.App.Schedule); err != nil {
			return fmt.Errorf("invalid app.schedule %q: %w", c.App.Schedule, err)
		}
	}
	return nil
}

// RunConfig 生成一次运行使用的不可变参数。
func (c *Config) RunConfig() pipeline.RunConfig {
	return pipeline.RunConfig{
		Keywords:          append([]string(nil), c.Scrape.Keywords...),
		StatusFilters:     append([]string(nil), c.Scrape.StatusFilters...),
		SearchBase:        c.Scrape.SearchBase,
		Sort:              c.Scrape.Sort,
		Order:             c.Scrape.Order,
		MaxLinksPerSearch: c.Scrape.MaxLinksPerSearch,
		MaxIdleLoads:      c.Scrape.MaxIdleLoads,
		MaxItemVisits:     c.Scrape.MaxItemVisits,
		PageTimeout:       c.Browser.PageTimeout.Std(),
		SoldMarkers:       append([]string(nil), c.Scrape.SoldMarkers...),
		ActiveMarkers:     append([]string(nil), c.Scrape.ActiveMarkers...),
	}
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:        "local",
			LogLevel:   "info",
			HTTPAddr:   ":8081",
			OutputPath: "data/sold_prices.json",
		},
		Scrape: ScrapeConfig{
			Backend:           crawler.BackendBrowser,
			Keywords:          append([]string(nil), pipeline.DefaultKeywords...),
			StatusFilters:     append([]string(nil), pipeline.DefaultStatusFilters...),
			SearchBase:        crawler.DefaultSearchBase,
			Sort:              "created_time",
			Order:             "desc",
			MaxLinksPerSearch: 120,
			MaxIdleLoads:      3,
			MaxItemVisits:     300,
			DelayEnabled:      true,
			DelayMin:          Duration(1500 * time.Millisecond),
			DelayMax:          Duration(4 * time.Second),
			RequestsPerSecond: 0.5,
			Burst:             1,
			DedupTTL:          Duration(6 * time.Hour),
			SoldMarkers:       append([]string(nil), crawler.DefaultSoldMarkers...),
			ActiveMarkers:     append([]string(nil), crawler.DefaultActiveMarkers...),
		},
		Catalog: CatalogConfig{
			CacheTTL: Duration(24 * time.Hour),
		},
		Browser: BrowserConfig{
			Headless:    true,
			PageTimeout: Duration(45 * time.Second),
		},
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
		},
		Metrics: MetricsConfig{
			Job: "pokepark_scraper",
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
	if cfg.App.OutputPath == "" {
		cfg.App.OutputPath = defaults.App.OutputPath
	}

	s, d := &cfg.Scrape, defaults.Scrape
	if s.Backend == "" {
		s.Backend = d.Backend
	}
	if len(s.Keywords) == 0 {
		s.Keywords = d.Keywords
	}
	if len(s.StatusFilters) == 0 {
		s.StatusFilters = d.StatusFilters
	}
	if s.SearchBase == "" {
		s.SearchBase = d.SearchBase
	}
	if s.Sort == "" {
		s.Sort = d.Sort
	}
	if s.Order == "" {
		s.Order = d.Order
	}
	if s.MaxLinksPerSearch == 0 {
		s.MaxLinksPerSearch = d.MaxLinksPerSearch
	}
	if s.MaxIdleLoads == 0 {
		s.MaxIdleLoads = d.MaxIdleLoads
	}
	if s.MaxItemVisits == 0 {
		s.MaxItemVisits = d.MaxItemVisits
	}
	if s.DelayMin == 0 && s.DelayMax == 0 {
		s.DelayMin, s.DelayMax = d.DelayMin, d.DelayMax
	}
	if s.Burst == 0 {
		s.Burst = d.Burst
	}
	if s.DedupTTL == 0 {
		s.DedupTTL = d.DedupTTL
	}
	if len(s.SoldMarkers) == 0 {
		s.SoldMarkers = d.SoldMarkers
	}
	if len(s.ActiveMarkers) == 0 {
		s.ActiveMarkers = d.ActiveMarkers
	}

	if cfg.Catalog.CacheTTL == 0 {
		cfg.Catalog.CacheTTL = defaults.Catalog.CacheTTL
	}
	if cfg.Browser.PageTimeout == 0 {
		cfg.Browser.PageTimeout = defaults.Browser.PageTimeout
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Metrics.Job == "" {
		cfg.Metrics.Job = defaults.Metrics.Job
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("chrome_bin", "CHROME_BIN")
	_ = viper.BindEnv("catalog_source_url", "CATALOG_SOURCE_URL")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_OUTPUT_PATH"); v != "" {
		cfg.App.OutputPath = v
	}
	if v, ok := os.LookupEnv("APP_SCHEDULE"); ok {
		cfg.App.Schedule = v
	}

	if v := os.Getenv("SCRAPE_BACKEND"); v != "" {
		cfg.Scrape.Backend = v
	}
	if v := os.Getenv("SCRAPE_KEYWORDS"); v != "" {
		cfg.Scrape.Keywords = splitList(v)
	}
	if v := os.Getenv("SCRAPE_STATUS_FILTERS"); v != "" {
		cfg.Scrape.StatusFilters = splitList(v)
	}
	if v := os.Getenv("SCRAPE_VISITED_NAMESPACE"); v != "" {
		cfg.Scrape.VisitedNamespace = v
	}
	if v := os.Getenv("SCRAPE_MAX_ITEM_VISITS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Scrape.MaxItemVisits = i
		}
	}
	if v := os.Getenv("SCRAPE_MAX_LINKS_PER_SEARCH"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Scrape.MaxLinksPerSearch = i
		}
	}
	if v := os.Getenv("SCRAPE_DELAY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Scrape.DelayEnabled = b
		}
	}
	if v := os.Getenv("SCRAPE_DELAY_MIN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scrape.DelayMin = Duration(d)
		}
	}
	if v := os.Getenv("SCRAPE_DELAY_MAX"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scrape.DelayMax = Duration(d)
		}
	}
	if v := os.Getenv("SCRAPE_GLOBAL_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Scrape.GlobalRate = f
		}
	}
	if v := os.Getenv("SCRAPE_GLOBAL_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Scrape.GlobalBurst = f
		}
	}

	if v := viper.GetString("catalog_source_url"); v != "" {
		cfg.Catalog.SourceURL = v
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
	if v := os.Getenv("HTTP_PROXY"); v != "" {
		cfg.Browser.ProxyURL = v
	} else if v := os.Getenv("BROWSER_PROXY_URL"); v != "" {
		cfg.Browser.ProxyURL = v
	}
	if v := os.Getenv("BROWSER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Headless = b
		}
	}
	if v := os.Getenv("BROWSER_PAGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Browser.PageTimeout = Duration(d)
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
	if v := os.Getenv("NOTIFY_TO"); v != "" {
		cfg.Email.To = splitList(v)
	}

	if v := os.Getenv("PUSHGATEWAY_URL"); v != "" {
		cfg.Metrics.PushgatewayURL = v
	}
}

// splitList 按逗号拆分环境变量中的列表。
// 状态过滤值本身含有 "|"，所以不能用 "|" 作分隔符。
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
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

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := func() *mysql.Config {
		c := mysql.NewConfig()
		c.User = "root"
		c.Net = "tcp"
		c.Addr = "localhost:3306"
		c.DBName = "pokepark"
		c.ParseTime = true
		c.Params = map[string]string{"charset": "utf8mb4"}
		return c
	}
	if dsn == "" {
		return fallback()
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback()
	}
	return parsed
}
