package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so QQ group numbers and chat ids can be written either as "123" or 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Bridge   BridgeConfig   `json:"bridge"`
	Channels ChannelsConfig `json:"channels"`
	Chatbot  ChatbotConfig  `json:"chatbot"`
	Keywords KeywordsConfig `json:"keywords"`
	Events   EventsConfig   `json:"events"`
	Gateway  GatewayConfig  `json:"gateway"`
	Tracing  TracingConfig  `json:"tracing,omitzero"`
	Log      LogConfig      `json:"log"`
}

// BridgeConfig holds the settings of the article-to-group bridge itself.
// An empty GroupName disables the bridge entirely.
type BridgeConfig struct {
	GroupName         string   `env:"QUNBRIDGE_BRIDGE_GROUP_NAME"          json:"group_name"`
	BaseURL           string   `env:"QUNBRIDGE_BRIDGE_BASE_URL"            json:"base_url"`
	Transport         string   `env:"QUNBRIDGE_BRIDGE_TRANSPORT"           json:"transport"`
	ExcludedTypes     []string `env:"QUNBRIDGE_BRIDGE_EXCLUDED_TYPES"      json:"excluded_types"`
	KeywordLimit      int      `env:"QUNBRIDGE_BRIDGE_KEYWORD_LIMIT"       json:"keyword_limit"`
	RawSearchKeyword  bool     `env:"QUNBRIDGE_BRIDGE_RAW_SEARCH_KEYWORD"  json:"raw_search_keyword"`
	InboundQueueSize  int      `env:"QUNBRIDGE_BRIDGE_INBOUND_QUEUE_SIZE"  json:"inbound_queue_size"`
	OutboundQueueSize int      `env:"QUNBRIDGE_BRIDGE_OUTBOUND_QUEUE_SIZE" json:"outbound_queue_size"`
	ReconnectInterval int      `env:"QUNBRIDGE_BRIDGE_RECONNECT_INTERVAL"  json:"reconnect_interval"` // seconds, 0 disables
}

// Enabled reports whether a target group is configured.
func (b BridgeConfig) Enabled() bool {
	return strings.TrimSpace(b.GroupName) != ""
}

type ChannelsConfig struct {
	OneBot     OneBotConfig     `json:"onebot"`
	QQ         QQConfig         `json:"qq"`
	Discord    DiscordConfig    `json:"discord"`
	Slack      SlackConfig      `json:"slack"`
	Telegram   TelegramConfig   `json:"telegram"`
	Mattermost MattermostConfig `json:"mattermost"`
	Feishu     FeishuConfig     `json:"feishu"`
}

type OneBotConfig struct {
	WSUrl       string              `env:"QUNBRIDGE_CHANNELS_ONEBOT_WS_URL"       json:"ws_url"`
	AccessToken string              `env:"QUNBRIDGE_CHANNELS_ONEBOT_ACCESS_TOKEN" json:"access_token"`
	Timeout     int                 `env:"QUNBRIDGE_CHANNELS_ONEBOT_TIMEOUT"      json:"timeout"` // seconds per action
	AllowFrom   FlexibleStringSlice `env:"QUNBRIDGE_CHANNELS_ONEBOT_ALLOW_FROM"   json:"allow_from"`
}

// QQConfig configures the official QQ bot API. The API has no group list
// endpoint, so groups the bot may post to are declared as name -> openid.
type QQConfig struct {
	AppID     string              `env:"QUNBRIDGE_CHANNELS_QQ_APP_ID"     json:"app_id"`
	AppSecret string              `env:"QUNBRIDGE_CHANNELS_QQ_APP_SECRET" json:"app_secret"`
	Groups    map[string]string   `                                       json:"groups"` //nolint:tagalign // golines conflict
	AllowFrom FlexibleStringSlice `env:"QUNBRIDGE_CHANNELS_QQ_ALLOW_FROM" json:"allow_from"`
}

type DiscordConfig struct {
	Token     string              `env:"QUNBRIDGE_CHANNELS_DISCORD_TOKEN"      json:"token"`
	AllowFrom FlexibleStringSlice `env:"QUNBRIDGE_CHANNELS_DISCORD_ALLOW_FROM" json:"allow_from"`
}

type SlackConfig struct {
	BotToken  string              `env:"QUNBRIDGE_CHANNELS_SLACK_BOT_TOKEN"  json:"bot_token"`
	AppToken  string              `env:"QUNBRIDGE_CHANNELS_SLACK_APP_TOKEN"  json:"app_token"`
	AllowFrom FlexibleStringSlice `env:"QUNBRIDGE_CHANNELS_SLACK_ALLOW_FROM" json:"allow_from"`
}

type TelegramConfig struct {
	Token     string              `env:"QUNBRIDGE_CHANNELS_TELEGRAM_TOKEN"      json:"token"`
	ChatIDs   FlexibleStringSlice `env:"QUNBRIDGE_CHANNELS_TELEGRAM_CHAT_IDS"   json:"chat_ids"`
	AllowFrom FlexibleStringSlice `env:"QUNBRIDGE_CHANNELS_TELEGRAM_ALLOW_FROM" json:"allow_from"`
}

type MattermostConfig struct {
	ServerURL string              `env:"QUNBRIDGE_CHANNELS_MATTERMOST_SERVER_URL" json:"server_url"`
	Token     string              `env:"QUNBRIDGE_CHANNELS_MATTERMOST_TOKEN"      json:"token"`
	TeamID    string              `env:"QUNBRIDGE_CHANNELS_MATTERMOST_TEAM_ID"    json:"team_id"`
	AllowFrom FlexibleStringSlice `env:"QUNBRIDGE_CHANNELS_MATTERMOST_ALLOW_FROM" json:"allow_from"`
}

// FeishuConfig configures a Feishu/Lark custom app bot. Groups are the
// chats the bot has been added to.
type FeishuConfig struct {
	AppID             string              `env:"QUNBRIDGE_CHANNELS_FEISHU_APP_ID"             json:"app_id"`
	AppSecret         string              `env:"QUNBRIDGE_CHANNELS_FEISHU_APP_SECRET"         json:"app_secret"`
	EncryptKey        string              `env:"QUNBRIDGE_CHANNELS_FEISHU_ENCRYPT_KEY"        json:"encrypt_key"`
	VerificationToken string              `env:"QUNBRIDGE_CHANNELS_FEISHU_VERIFICATION_TOKEN" json:"verification_token"`
	BaseDomain        string              `env:"QUNBRIDGE_CHANNELS_FEISHU_BASE_DOMAIN"        json:"base_domain,omitempty"` // e.g. https://open.larksuite.com
	AllowFrom         FlexibleStringSlice `env:"QUNBRIDGE_CHANNELS_FEISHU_ALLOW_FROM"         json:"allow_from"`
}

// ChatbotConfig selects the service that answers "@社区 Bot #1" questions.
// Provider is one of "turing", "anthropic", "openai" or "" (disabled).
type ChatbotConfig struct {
	Provider     string `env:"QUNBRIDGE_CHATBOT_PROVIDER"      json:"provider"`
	APIKey       string `env:"QUNBRIDGE_CHATBOT_API_KEY"       json:"api_key"`
	APIBase      string `env:"QUNBRIDGE_CHATBOT_API_BASE"      json:"api_base"`
	Model        string `env:"QUNBRIDGE_CHATBOT_MODEL"         json:"model,omitempty"`
	MaxTokens    int    `env:"QUNBRIDGE_CHATBOT_MAX_TOKENS"    json:"max_tokens"`
	SystemPrompt string `env:"QUNBRIDGE_CHATBOT_SYSTEM_PROMPT" json:"system_prompt,omitempty"`
	Timeout      int    `env:"QUNBRIDGE_CHATBOT_TIMEOUT"       json:"timeout"` // seconds
}

// KeywordsConfig selects where candidate search keywords come from.
// Source is one of "static", "file", "postgres", "http".
type KeywordsConfig struct {
	Source   string                `env:"QUNBRIDGE_KEYWORDS_SOURCE"  json:"source"`
	Static   []string              `env:"QUNBRIDGE_KEYWORDS_STATIC"  json:"static,omitempty"`
	File     string                `env:"QUNBRIDGE_KEYWORDS_FILE"    json:"file,omitempty"`
	Refresh  string                `env:"QUNBRIDGE_KEYWORDS_REFRESH" json:"refresh"` // cron expression
	Watch    bool                  `env:"QUNBRIDGE_KEYWORDS_WATCH"   json:"watch"`
	Postgres PostgresKeywordConfig `json:"postgres"`
	HTTP     HTTPKeywordConfig     `json:"http"`
}

type PostgresKeywordConfig struct {
	DSN   string `env:"QUNBRIDGE_KEYWORDS_POSTGRES_DSN"   json:"dsn"`
	Query string `env:"QUNBRIDGE_KEYWORDS_POSTGRES_QUERY" json:"query,omitempty"`
}

type HTTPKeywordConfig struct {
	URL          string   `env:"QUNBRIDGE_KEYWORDS_HTTP_URL"           json:"url"`
	TokenURL     string   `env:"QUNBRIDGE_KEYWORDS_HTTP_TOKEN_URL"     json:"token_url,omitempty"`
	ClientID     string   `env:"QUNBRIDGE_KEYWORDS_HTTP_CLIENT_ID"     json:"client_id,omitempty"`
	ClientSecret string   `env:"QUNBRIDGE_KEYWORDS_HTTP_CLIENT_SECRET" json:"client_secret,omitempty"`
	Scopes       []string `env:"QUNBRIDGE_KEYWORDS_HTTP_SCOPES"        json:"scopes,omitempty"`
	Timeout      int      `env:"QUNBRIDGE_KEYWORDS_HTTP_TIMEOUT"       json:"timeout"` // seconds
}

// EventsConfig configures how "article created" events reach the bridge.
type EventsConfig struct {
	WebhookPath string `env:"QUNBRIDGE_EVENTS_WEBHOOK_PATH" json:"webhook_path"`
	WebhookKey  string `env:"QUNBRIDGE_EVENTS_WEBHOOK_KEY"  json:"webhook_key"`
	PostgresDSN string `env:"QUNBRIDGE_EVENTS_POSTGRES_DSN" json:"postgres_dsn,omitempty"`
	PGChannel   string `env:"QUNBRIDGE_EVENTS_PG_CHANNEL"   json:"pg_channel,omitempty"`
}

type GatewayConfig struct {
	Host string `env:"QUNBRIDGE_GATEWAY_HOST" json:"host"`
	Port int    `env:"QUNBRIDGE_GATEWAY_PORT" json:"port"`
}

// TracingConfig enables OTLP/gRPC span export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string `env:"QUNBRIDGE_TRACING_ENDPOINT"     json:"endpoint"`
	ServiceName string `env:"QUNBRIDGE_TRACING_SERVICE_NAME" json:"service_name,omitempty"`
	Insecure    bool   `env:"QUNBRIDGE_TRACING_INSECURE"     json:"insecure"`
}

type LogConfig struct {
	Level  string `env:"QUNBRIDGE_LOG_LEVEL"  json:"level"`
	Format string `env:"QUNBRIDGE_LOG_FORMAT" json:"format"` // console | json
}

var (
	knownTransports = []string{"onebot", "qq", "discord", "slack", "telegram", "mattermost", "feishu", "memory"}
	knownChatbots   = []string{"", "turing", "anthropic", "openai"}
	knownSources    = []string{"static", "file", "postgres", "http"}
)

// Validate checks cross-field requirements. A disabled bridge is always valid.
func (c *Config) Validate() error {
	if !c.Bridge.Enabled() {
		return nil
	}
	if c.Bridge.BaseURL == "" {
		return errors.New("bridge.base_url is required when bridge.group_name is set")
	}
	if !contains(knownTransports, c.Bridge.Transport) {
		return fmt.Errorf("bridge.transport %q is not one of %v", c.Bridge.Transport, knownTransports)
	}
	if !contains(knownChatbots, c.Chatbot.Provider) {
		return fmt.Errorf("chatbot.provider %q is not one of %v", c.Chatbot.Provider, knownChatbots)
	}
	if !contains(knownSources, c.Keywords.Source) {
		return fmt.Errorf("keywords.source %q is not one of %v", c.Keywords.Source, knownSources)
	}
	switch c.Keywords.Source {
	case "file":
		if c.Keywords.File == "" {
			return errors.New("keywords.file is required for the file source")
		}
	case "postgres":
		if c.Keywords.Postgres.DSN == "" {
			return errors.New("keywords.postgres.dsn is required for the postgres source")
		}
	case "http":
		if c.Keywords.HTTP.URL == "" {
			return errors.New("keywords.http.url is required for the http source")
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		// Lists present in the file replace the defaults instead of being
		// merged element by element by the decoder.
		var tmp Config
		if err := json.Unmarshal(data, &tmp); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if len(tmp.Bridge.ExcludedTypes) > 0 {
			cfg.Bridge.ExcludedTypes = nil
		}

		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}

// KeywordFilePath returns the keyword file with "~" expanded.
func (c *Config) KeywordFilePath() string {
	return expandHome(c.Keywords.File)
}
