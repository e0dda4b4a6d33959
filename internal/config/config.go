package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

const (
	DefaultOAuthBaseURL = "https://oauth.shu.edu.cn"
	DefaultLogoutURL    = "https://newsso.shu.edu.cn/oauth/logout"
	DefaultClientID     = "E422OBk2611Y4bUEO21gm1OF1RxkFLQ6"
	DefaultRedirectURI  = "https://jwxk.shu.edu.cn/xsxk/oauth/callback"
	DefaultPortalURL    = "https://jwxk.shu.edu.cn"

	maxLoginRetries = 5
)

type Runtime struct {
	ConfigFile string

	// EnvFileKeys lists the variables the config file exported.
	EnvFileKeys []string

	Username string
	Password string

	AuthorizeURL    string
	ClientID        string
	RedirectURI     string
	LogoutURL       string
	PortalBaseURL   string
	Timeout         time.Duration
	MaxLoginRetries int

	TermStart      string
	Location       *time.Location
	HolidaysFile   string
	RecurrenceMode string
	OutputDir      string

	HTTPAddr      string
	RedisAddr     string
	RedisPassword string
	Cooldown      time.Duration

	LogLevel string
}

func Load() (Runtime, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Runtime{}, fmt.Errorf("resolve home dir: %w", err)
	}

	xdgConfig := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}

	defaultConfig := filepath.Join(xdgConfig, "classcal", "classcal.env")
	configFile := strings.TrimSpace(os.Getenv("CLASSCAL_CONFIG_FILE"))
	if configFile == "" {
		configFile = defaultConfig
	}

	envFileKeys, err := loadEnvFile(configFile)
	if err != nil {
		return Runtime{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("CLASSCAL")
	v.AutomaticEnv()

	_ = v.BindEnv("username", "CLASSCAL_USERNAME", "SHUSTUID")
	_ = v.BindEnv("password", "CLASSCAL_PASSWORD", "SHUSTUPWD")
	_ = v.BindEnv("oauth_base_url", "CLASSCAL_OAUTH_BASE_URL")
	_ = v.BindEnv("client_id", "CLASSCAL_CLIENT_ID")
	_ = v.BindEnv("redirect_uri", "CLASSCAL_REDIRECT_URI")
	_ = v.BindEnv("logout_url", "CLASSCAL_LOGOUT_URL")
	_ = v.BindEnv("portal_base_url", "CLASSCAL_PORTAL_BASE_URL")
	_ = v.BindEnv("timeout_seconds", "CLASSCAL_TIMEOUT_SECONDS")
	_ = v.BindEnv("max_login_retries", "CLASSCAL_MAX_LOGIN_RETRIES")
	_ = v.BindEnv("term_start", "CLASSCAL_TERM_START", "TERM_START")
	_ = v.BindEnv("timezone", "CLASSCAL_TIMEZONE")
	_ = v.BindEnv("holidays_file", "CLASSCAL_HOLIDAYS_FILE")
	_ = v.BindEnv("recurrence_mode", "CLASSCAL_RECURRENCE_MODE")
	_ = v.BindEnv("output_dir", "CLASSCAL_OUTPUT_DIR", "OUTPUTDIR")
	_ = v.BindEnv("http_addr", "CLASSCAL_HTTP_ADDR")
	_ = v.BindEnv("redis_addr", "CLASSCAL_REDIS_ADDR")
	_ = v.BindEnv("redis_password", "CLASSCAL_REDIS_PASSWORD")
	_ = v.BindEnv("cooldown_seconds", "CLASSCAL_COOLDOWN_SECONDS")
	_ = v.BindEnv("log_level", "CLASSCAL_LOG_LEVEL")

	v.SetDefault("oauth_base_url", DefaultOAuthBaseURL)
	v.SetDefault("client_id", DefaultClientID)
	v.SetDefault("redirect_uri", DefaultRedirectURI)
	v.SetDefault("logout_url", DefaultLogoutURL)
	v.SetDefault("portal_base_url", DefaultPortalURL)
	v.SetDefault("timeout_seconds", 15)
	v.SetDefault("max_login_retries", 1)
	v.SetDefault("timezone", "Asia/Shanghai")
	v.SetDefault("recurrence_mode", "explicit")
	v.SetDefault("output_dir", "interval-crawler-task-result")
	v.SetDefault("http_addr", ":9000")
	v.SetDefault("cooldown_seconds", 60)
	v.SetDefault("log_level", "info")

	timeoutSeconds := v.GetInt("timeout_seconds")
	if timeoutSeconds <= 0 {
		timeoutSeconds = 15
	}

	retries := v.GetInt("max_login_retries")
	if retries < 0 {
		retries = 0
	}
	if retries > maxLoginRetries {
		retries = maxLoginRetries
	}

	cooldownSeconds := v.GetInt("cooldown_seconds")
	if cooldownSeconds < 0 {
		cooldownSeconds = 0
	}

	location, err := time.LoadLocation(strings.TrimSpace(v.GetString("timezone")))
	if err != nil {
		return Runtime{}, fmt.Errorf("load timezone %q: %w", v.GetString("timezone"), err)
	}

	oauthBase := strings.TrimRight(strings.TrimSpace(v.GetString("oauth_base_url")), "/")
	if oauthBase == "" {
		oauthBase = DefaultOAuthBaseURL
	}

	outputDir := strings.TrimSpace(v.GetString("output_dir"))
	if outputDir == "" {
		outputDir = "interval-crawler-task-result"
	}

	return Runtime{
		ConfigFile:      configFile,
		EnvFileKeys:     envFileKeys,
		Username:        strings.TrimSpace(v.GetString("username")),
		Password:        v.GetString("password"),
		AuthorizeURL:    oauthBase + "/oauth/authorize",
		ClientID:        strings.TrimSpace(v.GetString("client_id")),
		RedirectURI:     strings.TrimSpace(v.GetString("redirect_uri")),
		LogoutURL:       strings.TrimSpace(v.GetString("logout_url")),
		PortalBaseURL:   strings.TrimSpace(v.GetString("portal_base_url")),
		Timeout:         time.Duration(timeoutSeconds) * time.Second,
		MaxLoginRetries: retries,
		TermStart:       strings.TrimSpace(v.GetString("term_start")),
		Location:        location,
		HolidaysFile:    strings.TrimSpace(v.GetString("holidays_file")),
		RecurrenceMode:  strings.TrimSpace(v.GetString("recurrence_mode")),
		OutputDir:       outputDir,
		HTTPAddr:        strings.TrimSpace(v.GetString("http_addr")),
		RedisAddr:       strings.TrimSpace(v.GetString("redis_addr")),
		RedisPassword:   v.GetString("redis_password"),
		Cooldown:        time.Duration(cooldownSeconds) * time.Second,
		LogLevel:        strings.TrimSpace(v.GetString("log_level")),
	}, nil
}

func (r Runtime) HasCredentials() bool {
	return r.Username != "" && r.Password != ""
}

// loadEnvFile exports the dotenv file's variables that the process
// environment does not already set and returns their names.
func loadEnvFile(path string) ([]string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat env file %s: %w", path, err)
	}

	file := viper.New()
	file.SetConfigFile(path)
	file.SetConfigType("env")
	if err := file.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}

	applied := make([]string, 0, len(file.AllKeys()))
	for _, key := range file.AllKeys() {
		name := strings.ToUpper(key)
		if _, exists := os.LookupEnv(name); exists {
			continue
		}
		if err := os.Setenv(name, file.GetString(key)); err != nil {
			return applied, fmt.Errorf("export %s: %w", name, err)
		}
		applied = append(applied, name)
	}
	sort.Strings(applied)
	return applied, nil
}
