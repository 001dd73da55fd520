package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/jbravo94/glass-companion/internal/app"
)

// GetServeCommand はストリーミングサーバーを起動するコマンドを返す
func GetServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "カメラ映像の配信サーバーを起動する",
		Description: `カメラを開いて MJPEG と WebSocket で配信する。

例:
  glass-companion serve --port 8080
  glass-companion --backend spool --spool-dir /tmp/frames serve`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "待ち受けるホスト",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "待ち受けるポート",
			},
			&cli.BoolFlag{
				Name:  "timelapse",
				Usage: "タイムラプスの保存を有効にする",
			},
		},
		Action: func(c *cli.Context) error {
			cc, err := NewCommandContext(c)
			if err != nil {
				return err
			}
			defer func() { _ = cc.Logger.Sync() }()

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cc.Logger.Info("サーバーを起動します",
				zap.String("addr", cc.Config.ServerAddress()),
				zap.String("backend", cc.Config.Camera.Backend))

			return runServe(ctx, cc)
		},
	}
}

// runServe は ctx が終わるまでアプリケーションを動かす
func runServe(ctx context.Context, cc *CommandContext) error {
	application, err := app.New(ctx, cc.Config, cc.Logger)
	if err != nil {
		return err
	}
	return application.Run(ctx)
}
