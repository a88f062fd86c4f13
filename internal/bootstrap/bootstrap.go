package bootstrap

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/waymark-labs/waymark/internal/config"
)

// InitOptions configures the bootstrap process for generating config files.
type InitOptions struct {
	Root             string
	Environment      string
	ListenAddr       string
	StorePath        string
	UsagePath        string
	SessionSecret    string
	KakaoClientID    string
	KakaoRedirectURI string
	GenerationSource string
	Model            string
	Force            bool
}

// Init scaffolds configuration files for the waymark daemon.
func Init(opts InitOptions) error {
	applyDefaults(&opts)
	if err := ensureDir(filepath.Join(opts.Root, "config", opts.Environment)); err != nil {
		return err
	}

	settingPath := filepath.Join(opts.Root, "config", "setting.ini")
	if err := writeFile(settingPath, settingTemplate(opts), opts.Force); err != nil {
		return err
	}

	waymarkPath := filepath.Join(opts.Root, "config", opts.Environment, "waymark.ini")
	if err := writeFile(waymarkPath, waymarkTemplate(opts), opts.Force); err != nil {
		return err
	}

	return nil
}

func applyDefaults(opts *InitOptions) {
	if strings.TrimSpace(opts.Root) == "" {
		opts.Root = "."
	}
	if strings.TrimSpace(opts.Environment) == "" {
		opts.Environment = "dev"
	}
	if strings.TrimSpace(opts.ListenAddr) == "" {
		opts.ListenAddr = ":8090"
	}
	if strings.TrimSpace(opts.StorePath) == "" {
		opts.StorePath = config.DefaultStorePath()
	}
	if strings.TrimSpace(opts.UsagePath) == "" {
		opts.UsagePath = config.DefaultUsagePath()
	}
	if strings.TrimSpace(opts.SessionSecret) == "" {
		opts.SessionSecret = randomSecret()
	}
	if strings.TrimSpace(opts.GenerationSource) == "" {
		opts.GenerationSource = "scripted"
	}
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = "gpt-4o-mini"
	}
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "waymark-dev-secret"
	}
	return hex.EncodeToString(buf)
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func writeFile(path, contents string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

func settingTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# Waymark settings
environment=%s
cookie_name=waymark_session
`, opts.Environment)
}

func waymarkTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# Environment specific overrides for %s
listen_addr=%s
log_level=info
# Dash '-' disables file output.
log_file=logs/waymarkd.log
store_driver=sqlite
store_path=%s
usage_driver=sqlite
usage_path=%s
session_secret=%s
# "scripted" answers offline with canned output; switch to "openai" and set
# openai_api_key for real generations.
generation_source=%s
model=%s
kakao_client_id=%s
kakao_redirect_uri=%s
`, opts.Environment, opts.ListenAddr, opts.StorePath, opts.UsagePath,
		opts.SessionSecret, opts.GenerationSource, opts.Model,
		opts.KakaoClientID, opts.KakaoRedirectURI)
}

// Validate ensures required fields are sane without modifying files.
func Validate(opts InitOptions) error {
	applyDefaults(&opts)
	switch opts.GenerationSource {
	case "scripted", "openai":
	default:
		return fmt.Errorf("invalid generation source %q", opts.GenerationSource)
	}
	if !strings.Contains(opts.ListenAddr, ":") {
		return errors.New("listen address must contain a port")
	}
	return nil
}
