// Package classifier decides how the bridge answers a group message: not at
// all, with a link to the community search, or with a chatbot reply.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/tinyland-inc/qunbridge/pkg/bus"
	"github.com/tinyland-inc/qunbridge/pkg/keywords"
)

const (
	// MinQuestionLength is the shortest message, in characters, treated as a question.
	MinQuestionLength = 12
	// ChatbotTrigger must appear in a message for it to reach the chatbot.
	ChatbotTrigger = "@社区 Bot #1"
	// SearchSuggestionPrefix starts every search suggestion reply.
	SearchSuggestionPrefix = "社区里可能有该问题的答案： "
)

var (
	ErrKeywordSource = errors.New("keyword source failed")
	ErrChatbot       = errors.New("chatbot failed")
)

type Action int

const (
	ActionNone Action = iota
	ActionSearchSuggestion
	ActionChatbot
)

func (a Action) String() string {
	switch a {
	case ActionSearchSuggestion:
		return "search_suggestion"
	case ActionChatbot:
		return "chatbot"
	default:
		return "none"
	}
}

// Reasons reported for ActionNone.
const (
	ReasonOtherGroup      = "other_group"
	ReasonTooShort        = "too_short"
	ReasonNotQuestion     = "not_question"
	ReasonNoMatch         = "no_match"
	ReasonBackendError    = "backend_error"
	ReasonChatbotDisabled = "chatbot_disabled"
	ReasonEmptyReply      = "empty_reply"
)

// Result is the outcome of classifying one message. Reply is the text to
// send for any action other than ActionNone.
type Result struct {
	Action  Action
	Reason  string
	Keyword string
	Reply   string
	Err     error
}

// KeywordSource supplies candidate keywords in priority order.
type KeywordSource interface {
	Keywords(ctx context.Context, limit int) ([]keywords.Keyword, error)
}

// Chatbot answers free-form questions.
type Chatbot interface {
	Chat(ctx context.Context, history, input string) (string, error)
}

type Config struct {
	BaseURL string
	// KeywordLimit caps how many keywords are scanned; 0 scans all.
	KeywordLimit int
	// RawKeyword embeds the keyword in the search URL without escaping.
	RawKeyword bool
}

type Classifier struct {
	cfg      Config
	keywords KeywordSource
	chatbot  Chatbot
}

// New builds a Classifier. A nil chatbot disables the chatbot step.
func New(cfg Config, source KeywordSource, chatbot Chatbot) *Classifier {
	return &Classifier{cfg: cfg, keywords: source, chatbot: chatbot}
}

// Classify applies the rules in order and returns the first that decides.
// Backend failures never escape: they produce ActionNone with Err set.
func (c *Classifier) Classify(ctx context.Context, bound *bus.Target, msg bus.InboundMessage) Result {
	if bound == nil || msg.GroupID != bound.GroupID ||
		(msg.Generation != 0 && msg.Generation != bound.Generation) {
		return Result{Reason: ReasonOtherGroup}
	}

	text := msg.Content
	if utf8.RuneCountInString(text) < MinQuestionLength {
		return Result{Reason: ReasonTooShort}
	}
	if !IsQuestion(text) {
		return Result{Reason: ReasonNotQuestion}
	}

	if c.keywords != nil {
		kws, err := c.keywords.Keywords(ctx, c.cfg.KeywordLimit)
		if err != nil {
			return Result{Reason: ReasonBackendError, Err: fmt.Errorf("%w: %v", ErrKeywordSource, err)}
		}
		if kw, ok := FirstMatch(kws, text, c.cfg.KeywordLimit); ok {
			return Result{
				Action:  ActionSearchSuggestion,
				Keyword: kw,
				Reply:   SearchSuggestion(c.cfg.BaseURL, kw, c.cfg.RawKeyword),
			}
		}
	}

	if !strings.Contains(text, ChatbotTrigger) {
		return Result{Reason: ReasonNoMatch}
	}
	if c.chatbot == nil {
		return Result{Reason: ReasonChatbotDisabled}
	}

	reply, err := c.chatbot.Chat(ctx, "", text)
	if err != nil {
		return Result{Reason: ReasonBackendError, Err: fmt.Errorf("%w: %v", ErrChatbot, err)}
	}
	if strings.TrimSpace(reply) == "" {
		return Result{Reason: ReasonEmptyReply}
	}
	return Result{Action: ActionChatbot, Reply: reply}
}

// IsQuestion reports whether text contains an ASCII or full-width question mark.
func IsQuestion(text string) bool {
	return strings.ContainsAny(text, "?？")
}

// FirstMatch returns the first keyword, in slice order, whose title occurs
// in text. Blank titles never match. limit > 0 bounds the scan.
func FirstMatch(kws []keywords.Keyword, text string, limit int) (string, bool) {
	for i, kw := range kws {
		if limit > 0 && i >= limit {
			break
		}
		if strings.TrimSpace(kw.Title) == "" {
			continue
		}
		if strings.Contains(text, kw.Title) {
			return kw.Title, true
		}
	}
	return "", false
}

// SearchSuggestion formats the reply pointing at the community search for keyword.
func SearchSuggestion(baseURL, keyword string, raw bool) string {
	if !raw {
		keyword = url.QueryEscape(keyword)
	}
	return SearchSuggestionPrefix + baseURL + "/search?key=" + keyword
}
