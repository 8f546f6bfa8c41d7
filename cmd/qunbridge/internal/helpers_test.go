package internal

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/qunbridge/pkg/bus"
	"github.com/tinyland-inc/qunbridge/pkg/channels"
	"github.com/tinyland-inc/qunbridge/pkg/classifier"
	"github.com/tinyland-inc/qunbridge/pkg/config"
	"github.com/tinyland-inc/qunbridge/pkg/logger"
)

func TestGetConfigPath(t *testing.T) {
	t.Cleanup(func() { SetConfigPath("") })

	assert.True(t, strings.HasSuffix(GetConfigPath(), filepath.Join(".qunbridge", "config.json")))

	SetConfigPath("/etc/qunbridge.json")
	assert.Equal(t, "/etc/qunbridge.json", GetConfigPath())
}

func TestSetupLogging(t *testing.T) {
	t.Cleanup(func() { logger.SetLevel(logger.INFO) })

	cfg := config.DefaultConfig()
	cfg.Log.Level = "warn"
	SetupLogging(cfg, false)
	assert.Equal(t, logger.WARN, logger.GetLevel())

	SetupLogging(cfg, true)
	assert.Equal(t, logger.DEBUG, logger.GetLevel())
}

func TestBuildComponents(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Keywords.Static = []string{"rust", "go"}

	tr := channels.NewMemoryTransport(nil, nil)
	comps, err := BuildComponents(context.Background(), cfg, tr)
	require.NoError(t, err)
	defer comps.Close()

	assert.Same(t, tr, comps.Transport)
	assert.Nil(t, comps.Chatbot)

	bound := &bus.Target{Generation: 1, GroupID: "g"}
	res := comps.Classifier.Classify(context.Background(), bound,
		bus.InboundMessage{Generation: 1, GroupID: "g", Content: "why is go so popular????"})
	assert.Equal(t, classifier.ActionSearchSuggestion, res.Action)
	assert.Equal(t, "go", res.Keyword)
}

func TestBuildComponents_Errors(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Chatbot.Provider = "eliza"
	_, err := BuildComponents(context.Background(), cfg, channels.NewMemoryTransport(nil, nil))
	assert.Error(t, err)

	cfg = config.DefaultConfig()
	cfg.Bridge.Transport = "carrier-pigeon"
	_, err = BuildComponents(context.Background(), cfg, nil)
	assert.Error(t, err)
}
