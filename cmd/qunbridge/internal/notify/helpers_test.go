package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/qunbridge/pkg/bus"
	"github.com/tinyland-inc/qunbridge/pkg/channels"
	"github.com/tinyland-inc/qunbridge/pkg/config"
	"github.com/tinyland-inc/qunbridge/pkg/notifier"
	"github.com/tinyland-inc/qunbridge/pkg/session"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Bridge.GroupName = "黑客派"
	cfg.Bridge.BaseURL = "https://hacpai.com"
	return cfg
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNotifyCommand(t *testing.T) {
	cmd := NewNotifyCommand()
	assert.Equal(t, "notify", cmd.Use)
	for _, name := range []string{"id", "title", "permalink", "type", "timeout"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "normal", cmd.Flags().Lookup("type").DefValue)
}

func TestNotifyOnce(t *testing.T) {
	tr := channels.NewMemoryTransport([]bus.Group{{ID: "7", Name: "黑客派"}}, nil)
	item := notifier.ContentItem{ID: "1", Title: "新文章", Type: notifier.TypeNormal, Permalink: "/article/1"}

	require.NoError(t, notifyOnce(testContext(t), testConfig(), tr, item))

	sent := tr.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, bus.GroupID("7"), sent[0].GroupID)
	assert.Equal(t, "新文章 https://hacpai.com/article/1", sent[0].Text)
	assert.Equal(t, 1, tr.Closes())
}

func TestNotifyOnce_Excluded(t *testing.T) {
	tr := channels.NewMemoryTransport([]bus.Group{{ID: "7", Name: "黑客派"}}, nil)
	item := notifier.ContentItem{ID: "2", Title: "随想", Type: notifier.TypeThought, Permalink: "/article/2"}

	err := notifyOnce(testContext(t), testConfig(), tr, item)
	assert.ErrorIs(t, err, notifier.ErrExcluded)
	assert.Empty(t, tr.Sent())
}

func TestNotifyOnce_Failures(t *testing.T) {
	item := notifier.ContentItem{ID: "3", Title: "x", Permalink: "/article/3"}

	cfg := testConfig()
	cfg.Bridge.GroupName = ""
	assert.ErrorIs(t, notifyOnce(testContext(t), cfg, channels.NewMemoryTransport(nil, nil), item), errDisabled)

	tr := channels.NewMemoryTransport([]bus.Group{{ID: "7", Name: "other"}}, nil)
	assert.ErrorIs(t, notifyOnce(testContext(t), testConfig(), tr, item), session.ErrGroupNotFound)

	boom := errors.New("rate limited")
	tr = channels.NewMemoryTransport([]bus.Group{{ID: "7", Name: "黑客派"}}, nil, channels.WithSendError(boom))
	assert.ErrorIs(t, notifyOnce(testContext(t), testConfig(), tr, item), boom)
}
