package config

// DefaultConfig returns the configuration used when no file is present.
// The bridge stays disabled until a group name is configured.
func DefaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			BaseURL:           "http://localhost:8080",
			Transport:         "onebot",
			ExcludedTypes:     []string{"discussion", "thought"},
			KeywordLimit:      0,
			InboundQueueSize:  100,
			OutboundQueueSize: 100,
		},
		Channels: ChannelsConfig{
			OneBot: OneBotConfig{
				WSUrl:   "ws://127.0.0.1:3001",
				Timeout: 10,
			},
		},
		Chatbot: ChatbotConfig{
			Provider:  "",
			MaxTokens: 512,
			Timeout:   15,
		},
		Keywords: KeywordsConfig{
			Source:  "static",
			Refresh: "*/10 * * * *",
			HTTP: HTTPKeywordConfig{
				Timeout: 10,
			},
		},
		Events: EventsConfig{
			WebhookPath: "/events/article-created",
			PGChannel:   "article_created",
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18790,
		},
		Tracing: TracingConfig{
			ServiceName: "qunbridge",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
