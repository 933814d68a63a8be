// Package cli holds the edutalk command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"edutalk/internal/chat"
	"edutalk/internal/config"
	"edutalk/internal/logging"
	"edutalk/internal/realtime"
	"edutalk/internal/session"
)

var (
	version = "dev"
	commit  = "unknown"
)

// app carries what the persistent flags resolve to.
type app struct {
	configPath string
	apiURL     string
	wsURL      string
	logLevel   string
	profile    string

	cfg *config.Config
}

// NewRootCommand builds the full command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "edutalk",
		Short: "Terminal client for the EduTalk chat service",
		Long: `edutalk signs you in to EduTalk, lists your conversations and lets you
chat from the terminal. Run "edutalk chat" for the interactive client.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "config file path (default is "+config.DefaultPath()+")")
	pf.StringVar(&a.apiURL, "api-url", "", "REST base URL")
	pf.StringVar(&a.wsURL, "ws-url", "", "WebSocket URL")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&a.profile, "profile", "default", "session name in the redis session backend")

	root.AddCommand(
		a.loginCommand(),
		a.registerCommand(),
		a.logoutCommand(),
		a.whoamiCommand(),
		a.conversationsCommand(),
		a.sendCommand(),
		a.chatCommand(),
	)
	return root
}

// Execute runs the command tree and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) loadConfig() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.apiURL != "" {
		cfg.APIURL = a.apiURL
	}
	if a.wsURL != "" {
		cfg.WSURL = a.wsURL
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// open builds a chat client from the config and restores the saved session.
// toFile forces logging into a file, which the terminal UI needs.
func (a *app) open(ctx context.Context, toFile bool) (*chat.Client, func(), error) {
	logFile := a.cfg.Log.File
	if toFile && logFile == "" {
		logFile = filepath.Join(config.Dir(), "edutalk.log")
	}
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	log, err := logging.New(a.cfg.Log.Level, logFile)
	if err != nil {
		return nil, nil, err
	}

	var rdb *redis.Client
	if a.cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: a.cfg.Redis.Addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			_ = log.Sync()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info("redis_connected", zap.String("addr", a.cfg.Redis.Addr))
	}

	opts := chat.Options{
		APIURL:       a.cfg.APIURL,
		WSURL:        a.cfg.WSURL,
		Logger:       log,
		ConfirmDelay: a.cfg.ConfirmDelay(),
		SeenRate:     a.cfg.SeenRate,
		SeenBurst:    a.cfg.SeenBurst,
	}
	switch a.cfg.SessionBackend {
	case "redis":
		opts.Store = session.NewRedisStore(rdb, a.profile)
	default:
		opts.Store = session.NewFileStore(a.cfg.SessionFile)
	}
	if rdb != nil {
		opts.Relay = realtime.NewRedisRelay(rdb, a.cfg.Redis.Channel, log.Named("relay"))
	}

	client := chat.New(opts)
	closeAll := func() {
		client.Close()
		if rdb != nil {
			_ = rdb.Close()
		}
		_ = log.Sync()
	}
	if err := client.Start(ctx); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("failed to restore session: %w", err)
	}
	return client, closeAll, nil
}

// openSession is open for commands that need a signed-in user.
func (a *app) openSession(ctx context.Context) (*chat.Client, func(), error) {
	client, closeAll, err := a.open(ctx, false)
	if err != nil {
		return nil, nil, err
	}
	if !client.Session.Active() {
		closeAll()
		return nil, nil, errNotSignedIn
	}
	return client, closeAll, nil
}
