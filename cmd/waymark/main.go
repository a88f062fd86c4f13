package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/waymark-labs/waymark/internal/auth"
	"github.com/waymark-labs/waymark/internal/bootstrap"
	"github.com/waymark-labs/waymark/internal/config"
	"github.com/waymark-labs/waymark/internal/store"
	storepostgres "github.com/waymark-labs/waymark/internal/store/postgres"
	storesqlite "github.com/waymark-labs/waymark/internal/store/sqlite"
	"github.com/waymark-labs/waymark/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "init":
			if err := runInit(os.Args[2:]); err != nil {
				log.Fatalf("waymark init failed: %v", err)
			}
			fmt.Println("waymark config initialised")
			return
		case "version":
			fmt.Println(version.FullInfo())
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	runDevLogin()
}

func printUsage() {
	fmt.Print(`Waymark CLI

Usage:
  waymark init [flags]   Generate config/setting.ini and environment overrides
  waymark version        Print build information
  waymark                Ensure a local dev account and print a session token

Flags for init:
  --root string                output directory (default '.')
  --env string                 environment name (default 'dev')
  --listen-addr string         bind address for waymarkd (default ':8090')
  --store-path string          roadmap SQLite path (default ~/.waymark/waymark.db)
  --usage-path string          usage SQLite path (default ~/.waymark/usage.db)
  --kakao-client-id string     Kakao OAuth client id
  --kakao-redirect-uri string  Kakao OAuth redirect URI
  --source string              generation source: scripted or openai (default 'scripted')
  --model string               completion model (default 'gpt-4o-mini')
  --force                      overwrite existing files
`)
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	root := fs.String("root", ".", "config root")
	env := fs.String("env", "dev", "environment name")
	listenAddr := fs.String("listen-addr", ":8090", "waymarkd bind address")
	storePath := fs.String("store-path", "", "roadmap sqlite path")
	usagePath := fs.String("usage-path", "", "usage sqlite path")
	kakaoClientID := fs.String("kakao-client-id", "", "Kakao OAuth client id")
	kakaoRedirect := fs.String("kakao-redirect-uri", "", "Kakao OAuth redirect URI")
	source := fs.String("source", "scripted", "generation source")
	model := fs.String("model", "gpt-4o-mini", "completion model")
	force := fs.Bool("force", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts := bootstrap.InitOptions{
		Root:             *root,
		Environment:      *env,
		ListenAddr:       *listenAddr,
		StorePath:        *storePath,
		UsagePath:        *usagePath,
		KakaoClientID:    *kakaoClientID,
		KakaoRedirectURI: *kakaoRedirect,
		GenerationSource: *source,
		Model:            *model,
		Force:            *force,
	}
	if err := bootstrap.Validate(opts); err != nil {
		return err
	}
	return bootstrap.Init(opts)
}

// runDevLogin upserts a local account directly in the configured store and
// prints a session token, so private endpoints can be exercised without a
// Kakao round trip.
func runDevLogin() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	rootLogger := log.New(os.Stdout, fmt.Sprintf("[waymark/main][%s] ", cfg.Environment), log.LstdFlags)

	kakaoID := int64FromEnv("WAYMARK_DEV_KAKAO_ID", 1)
	nickname := stringFromEnv("WAYMARK_DEV_NICKNAME", "dev")

	st, err := openStore(cfg)
	if err != nil {
		rootLogger.Fatalf("open roadmap store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	user, err := st.UpsertKakaoUser(ctx, kakaoID, nickname, cfg.DefaultProfileImg)
	if err != nil {
		rootLogger.Fatalf("ensure dev account: %v", err)
	}

	authManager := auth.NewManager(cfg.SessionSecret, cfg.SessionTTL)
	token, err := authManager.IssueToken(auth.Claims{
		UserUID:      user.UID,
		Nickname:     user.Nickname,
		ProfileImage: user.ProfileImage,
	})
	if err != nil {
		rootLogger.Fatalf("issue session token: %v", err)
	}

	rootLogger.Printf("dev account ready uid=%s nickname=%s kakao_id=%d", user.UID, user.Nickname, kakaoID)
	rootLogger.Printf("session token (valid %s):", cfg.SessionTTL)
	fmt.Println(token)
	fmt.Printf("\ncurl -H 'Authorization: Bearer %s' http://localhost%s/roadmap\n", token, portSuffix(cfg.ListenAddr))
}

func openStore(cfg config.ServerConfig) (store.Store, error) {
	if cfg.StoreDriver == "postgres" {
		return storepostgres.New(cfg.StoreDSN)
	}
	return storesqlite.New(cfg.StorePath)
}

func portSuffix(listenAddr string) string {
	if strings.HasPrefix(listenAddr, ":") {
		return listenAddr
	}
	if i := strings.LastIndex(listenAddr, ":"); i >= 0 {
		return listenAddr[i:]
	}
	return ":8090"
}

func stringFromEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func int64FromEnv(key string, fallback int64) int64 {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
