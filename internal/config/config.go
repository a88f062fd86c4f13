package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/waymark.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// ServerConfig describes runtime options for the waymark daemon.
type ServerConfig struct {
	Environment string
	ListenAddr  string
	PublicURL   string

	LogFile  string
	LogLevel string

	// Roadmap store: "sqlite" or "postgres".
	StoreDriver  string
	StorePath    string
	StoreDSN     string
	UsageDriver  string
	UsagePath    string
	UsageDSN     string
	UsageBuffer  int
	UsageFlush   time.Duration
	UsageWorkers int

	SessionSecret string
	SessionTTL    time.Duration
	CookieName    string
	CookieSecure  bool

	KakaoClientID     string
	KakaoClientSecret string
	KakaoRedirectURI  string
	KakaoAuthBaseURL  string
	KakaoAPIBaseURL   string
	DefaultProfileImg string

	// Generation source: "openai" or "scripted".
	GenerationSource string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	Model            string
	GenerateTimeout  time.Duration
	PromptPackPath   string
}

// Load reads the current environment and loads the appropriate waymark config file.
func Load(root string) (ServerConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return ServerConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return ServerConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := ServerConfig{
		Environment: s.Environment,
		ListenAddr:  firstNonEmpty(os.Getenv("WAYMARK_LISTEN_ADDR"), merged["listen_addr"], ":8090"),
		PublicURL:   firstNonEmpty(os.Getenv("WAYMARK_PUBLIC_URL"), merged["public_url"], "http://localhost:8090"),
		LogFile:     firstNonEmpty(os.Getenv("WAYMARK_LOG_FILE"), merged["log_file"]),
		LogLevel:    firstNonEmpty(merged["log_level"], "info"),

		StoreDriver: firstNonEmpty(os.Getenv("WAYMARK_STORE_DRIVER"), merged["store_driver"], "sqlite"),
		StorePath:   firstNonEmpty(os.Getenv("WAYMARK_STORE_PATH"), merged["store_path"], DefaultStorePath()),
		StoreDSN:    firstNonEmpty(os.Getenv("WAYMARK_STORE_DSN"), merged["store_dsn"]),
		UsageDriver: firstNonEmpty(os.Getenv("WAYMARK_USAGE_DRIVER"), merged["usage_driver"], "sqlite"),
		UsagePath:   firstNonEmpty(os.Getenv("WAYMARK_USAGE_PATH"), merged["usage_path"], DefaultUsagePath()),
		UsageDSN:    firstNonEmpty(os.Getenv("WAYMARK_USAGE_DSN"), merged["usage_dsn"]),

		SessionSecret: firstNonEmpty(os.Getenv("WAYMARK_SESSION_SECRET"), merged["session_secret"], "waymark-dev-secret"),
		CookieName:    firstNonEmpty(merged["cookie_name"], "waymark_session"),
		CookieSecure:  parseBool(firstNonEmpty(os.Getenv("WAYMARK_COOKIE_SECURE"), merged["cookie_secure"])),

		KakaoClientID:     firstNonEmpty(os.Getenv("WAYMARK_KAKAO_CLIENT_ID"), merged["kakao_client_id"]),
		KakaoClientSecret: firstNonEmpty(os.Getenv("WAYMARK_KAKAO_CLIENT_SECRET"), merged["kakao_client_secret"]),
		KakaoRedirectURI:  firstNonEmpty(os.Getenv("WAYMARK_KAKAO_REDIRECT_URI"), merged["kakao_redirect_uri"]),
		KakaoAuthBaseURL:  firstNonEmpty(merged["kakao_auth_base_url"], "https://kauth.kakao.com"),
		KakaoAPIBaseURL:   firstNonEmpty(merged["kakao_api_base_url"], "https://kapi.kakao.com"),
		DefaultProfileImg: firstNonEmpty(os.Getenv("WAYMARK_DEFAULT_PROFILE_IMAGE"), merged["default_profile_image"]),

		GenerationSource: firstNonEmpty(os.Getenv("WAYMARK_GENERATION_SOURCE"), merged["generation_source"], "openai"),
		OpenAIAPIKey:     firstNonEmpty(os.Getenv("WAYMARK_OPENAI_API_KEY"), merged["openai_api_key"]),
		OpenAIBaseURL:    firstNonEmpty(os.Getenv("WAYMARK_OPENAI_BASE_URL"), merged["openai_base_url"]),
		Model:            firstNonEmpty(os.Getenv("WAYMARK_MODEL"), merged["model"], "gpt-4o-mini"),
		PromptPackPath:   firstNonEmpty(os.Getenv("WAYMARK_PROMPT_PACK"), merged["prompt_pack"]),
	}

	cfg.SessionTTL, err = parseOptionalDuration(firstNonEmpty(os.Getenv("WAYMARK_SESSION_TTL"), merged["session_ttl"]), 7*24*time.Hour)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("invalid session_ttl: %w", err)
	}
	cfg.GenerateTimeout, err = parseOptionalDuration(firstNonEmpty(os.Getenv("WAYMARK_GENERATE_TIMEOUT"), merged["generate_timeout"]), 120*time.Second)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("invalid generate_timeout: %w", err)
	}
	cfg.UsageFlush, err = parseOptionalDuration(merged["usage_flush_interval"], 2*time.Second)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("invalid usage_flush_interval: %w", err)
	}
	cfg.UsageBuffer = parseOptionalInt(merged["usage_buffer"], 1024)
	cfg.UsageWorkers = parseOptionalInt(merged["usage_workers"], 1)

	switch cfg.StoreDriver {
	case "sqlite", "postgres":
	default:
		return ServerConfig{}, fmt.Errorf("invalid store_driver %q", cfg.StoreDriver)
	}
	switch cfg.UsageDriver {
	case "sqlite", "postgres":
	default:
		return ServerConfig{}, fmt.Errorf("invalid usage_driver %q", cfg.UsageDriver)
	}
	switch cfg.GenerationSource {
	case "openai", "scripted":
	default:
		return ServerConfig{}, fmt.Errorf("invalid generation_source %q", cfg.GenerationSource)
	}
	if cfg.StoreDriver == "postgres" && strings.TrimSpace(cfg.StoreDSN) == "" {
		return ServerConfig{}, errors.New("store_dsn required when store_driver=postgres")
	}
	if cfg.UsageDriver == "postgres" && strings.TrimSpace(cfg.UsageDSN) == "" {
		return ServerConfig{}, errors.New("usage_dsn required when usage_driver=postgres")
	}
	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalDuration(v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	return time.ParseDuration(strings.TrimSpace(v))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DefaultStorePath returns the fallback roadmap database location under the user's home directory.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "waymark.db"
	}
	return filepath.Join(home, ".waymark", "waymark.db")
}

// DefaultUsagePath returns the fallback usage database path.
func DefaultUsagePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "usage.db"
	}
	return filepath.Join(home, ".waymark", "usage.db")
}
