package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/jbravo94/glass-companion/internal/commands"
)

var (
	Version = "dev"
	Commit  = "none"
)

func main() {
	app := &cli.App{
		Name:     "glass-companion",
		Usage:    "カメラ映像を MJPEG で再配信する",
		Version:  fmt.Sprintf("%s (%s)", Version, Commit),
		Flags:    commands.GlobalFlags(),
		Commands: commands.GetCommands(),
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "エラー: %v\n", err)
		os.Exit(1)
	}
}
