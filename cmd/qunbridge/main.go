// QunBridge - community article notifications and Q&A for chat groups
// License: MIT
//
// Copyright (c) 2026 QunBridge contributors

package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tinyland-inc/qunbridge/cmd/qunbridge/internal"
	"github.com/tinyland-inc/qunbridge/cmd/qunbridge/internal/console"
	"github.com/tinyland-inc/qunbridge/cmd/qunbridge/internal/gateway"
	"github.com/tinyland-inc/qunbridge/cmd/qunbridge/internal/groups"
	"github.com/tinyland-inc/qunbridge/cmd/qunbridge/internal/initcmd"
	"github.com/tinyland-inc/qunbridge/cmd/qunbridge/internal/notify"
	"github.com/tinyland-inc/qunbridge/cmd/qunbridge/internal/version"
)

func NewQunbridgeCommand() *cobra.Command {
	short := fmt.Sprintf("%s qunbridge - community chat group bridge v%s\n\n", internal.Logo, internal.GetVersion())

	var configPath string
	cmd := &cobra.Command{
		Use:     "qunbridge",
		Short:   short,
		Example: "qunbridge gateway",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			internal.SetConfigPath(configPath)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Config file path (default: ~/.qunbridge/config.json)")

	cmd.AddCommand(
		initcmd.NewInitCommand(),
		gateway.NewGatewayCommand(),
		groups.NewGroupsCommand(),
		notify.NewNotifyCommand(),
		console.NewConsoleCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cmd := NewQunbridgeCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
