// Package commands はCLIのサブコマンドを定義する
package commands

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/jbravo94/glass-companion/internal/config"
	"github.com/jbravo94/glass-companion/internal/logging"
)

// GetCommands は全てのサブコマンドを返す
func GetCommands() []*cli.Command {
	return []*cli.Command{
		GetServeCommand(),
		GetChannelsCommand(),
	}
}

// GlobalFlags は全コマンド共通のフラグ
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "設定ファイル (YAML)",
			EnvVars: []string{"GLASS_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "backend",
			Usage: "カメラバックエンド (synthetic, spool, v4l2)",
		},
		&cli.StringFlag{
			Name:  "spool-dir",
			Usage: "spool バックエンドのディレクトリ",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "ログレベル (debug, info, warn, error)",
		},
		&cli.BoolFlag{
			Name:  "dev",
			Usage: "開発用のログ出力",
		},
	}
}

// CommandContext はコマンド共通の設定とロガー
type CommandContext struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewCommandContext は設定を読み込み、フラグで上書きしてロガーを作る
func NewCommandContext(c *cli.Context) (*CommandContext, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}

	return &CommandContext{Config: cfg, Logger: logger}, nil
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("host") {
		cfg.Server.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
	if c.IsSet("backend") {
		cfg.Camera.Backend = c.String("backend")
	}
	if c.IsSet("spool-dir") {
		cfg.Camera.SpoolDir = c.String("spool-dir")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("dev") {
		cfg.Log.Development = c.Bool("dev")
	}
	if c.IsSet("timelapse") {
		cfg.Timelapse.Enabled = c.Bool("timelapse")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正です: %w", err)
	}
	return cfg, nil
}
