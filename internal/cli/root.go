package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kickdl/internal/config"
)

// Run executes the command line and returns the first fatal error.
func Run(ctx context.Context, args []string) error {
	return execute(ctx, args, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(config.NewViper())
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "kickdl",
		Short: "kickdl: bulk downloader for Kick clips and VODs",
		Long: `kickdl lists a Kick channel's clips or VODs, lets you pick what to keep,
and downloads the selection with ffmpeg in concurrent batches.

Quick Start:
  kickdl doctor
  kickdl clips <channel> --time week --sort view
  kickdl vods <channel> --top 3
  kickdl video https://kick.com/<channel>/videos/<uuid>`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "config file path (default: ./kickdl.* or $XDG_CONFIG_HOME/kickdl/kickdl.*)")
	pf.String("log-level", "", "log level: debug|info|warn|error")
	pf.String("output-dir", "", "root directory for downloads")
	pf.String("base-url", "", "Kick API base URL")
	pf.String("proxy", "", "proxy URL (http, https, socks5, socks5h)")

	root.AddCommand(
		newDownloadCmd(v, downloadClips),
		newDownloadCmd(v, downloadVODs),
		newListCmd(v),
		newVideoCmd(v),
		newLastRunCmd(v),
		newDoctorCmd(v),
		newConfigCmd(v),
	)
	return root
}
