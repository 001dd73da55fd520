package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/jbravo94/glass-companion/internal/app"
)

// GetChannelsCommand はチャンネルと能力情報を一覧表示するコマンドを返す
func GetChannelsCommand() *cli.Command {
	return &cli.Command{
		Name:  "channels",
		Usage: "利用できるカメラチャンネルを表示する",
		Action: func(c *cli.Context) error {
			cc, err := NewCommandContext(c)
			if err != nil {
				return err
			}
			defer func() { _ = cc.Logger.Sync() }()

			device, err := app.NewDevice(cc.Config, cc.Logger)
			if err != nil {
				return err
			}
			reports, err := app.Describe(c.Context, cc.Config, device)
			if err != nil {
				return err
			}
			return printChannels(c.App.Writer, reports)
		},
	}
}

func printChannels(w io.Writer, reports []app.ChannelReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tNAME\tDEVICE\tMAX ZOOM\tMAX OFFSET\tAF")

	for _, r := range reports {
		if r.Err != nil {
			fmt.Fprintf(tw, "%d\t%s\t%s\t-\t-\tエラー: %v\n", r.Channel.Index, r.Channel.Name, r.Channel.ID, r.Err)
			continue
		}
		modes := make([]string, 0, len(r.Capabilities.AFModes))
		for _, m := range r.Capabilities.AFModes {
			modes = append(modes, m.String())
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\tx%.1f\t%s\t%s (%s)\n",
			r.Channel.Index, r.Channel.Name, r.Channel.ID,
			r.Capabilities.MaxZoom, r.Capabilities.MaxOffset,
			r.AFMode, strings.Join(modes, ","))
	}
	return tw.Flush()
}
