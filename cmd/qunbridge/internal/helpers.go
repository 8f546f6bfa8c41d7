package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/tinyland-inc/qunbridge/pkg/channels"
	"github.com/tinyland-inc/qunbridge/pkg/chatbot"
	"github.com/tinyland-inc/qunbridge/pkg/classifier"
	"github.com/tinyland-inc/qunbridge/pkg/config"
	"github.com/tinyland-inc/qunbridge/pkg/keywords"
	"github.com/tinyland-inc/qunbridge/pkg/logger"
)

const Logo = "📣"

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

var configPath string

// SetConfigPath overrides the default config location; empty keeps it.
func SetConfigPath(path string) {
	configPath = path
}

func GetConfigPath() string {
	if configPath != "" {
		return configPath
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".qunbridge", "config.json")
}

func LoadConfig() (*config.Config, error) {
	return config.LoadConfig(GetConfigPath())
}

// SetupLogging applies the log section of cfg; debug forces DEBUG.
func SetupLogging(cfg *config.Config, debug bool) {
	logger.Configure(os.Stderr, cfg.Log.Format)
	level := logger.ParseLevel(cfg.Log.Level)
	if debug {
		level = logger.DEBUG
	}
	logger.SetLevel(level)
}

// Components are the bridge collaborators built from configuration.
type Components struct {
	Transport  channels.Transport
	Keywords   *keywords.Cache
	Chatbot    chatbot.Service
	Classifier *classifier.Classifier
}

// BuildComponents assembles transport, keyword cache, chatbot and
// classifier. A nil transport is built from cfg.
func BuildComponents(ctx context.Context, cfg *config.Config, transport channels.Transport) (*Components, error) {
	if transport == nil {
		var err error
		transport, err = channels.NewTransport(cfg)
		if err != nil {
			return nil, err
		}
	}

	source, err := keywords.NewSource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("keywords: %w", err)
	}
	cache := keywords.NewCache(source)

	bot, err := chatbot.New(cfg.Chatbot)
	if err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("chatbot: %w", err)
	}

	var cb classifier.Chatbot
	if bot != nil {
		cb = bot
	}
	cls := classifier.New(classifier.Config{
		BaseURL:      cfg.Bridge.BaseURL,
		KeywordLimit: cfg.Bridge.KeywordLimit,
		RawKeyword:   cfg.Bridge.RawSearchKeyword,
	}, cache, cb)

	return &Components{
		Transport:  transport,
		Keywords:   cache,
		Chatbot:    bot,
		Classifier: cls,
	}, nil
}

func (c *Components) Close() {
	if err := c.Keywords.Close(); err != nil {
		logger.WarnCF("keywords", "Closing keyword source failed", map[string]any{"error": err.Error()})
	}
}

// FormatVersion returns the version string with optional git commit
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info
func FormatBuildInfo() (string, string) {
	build := buildTime
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return build, goVer
}

// GetVersion returns the version string
func GetVersion() string {
	return version
}
