package cmd

import (
	"fmt"
	"io"

	"github.com/remotetheme/remotetheme/pkg/resolver"
	"github.com/spf13/cobra"
)

// resolveView is the structured output of resolve.
type resolveView struct {
	Theme  string `json:"theme" toml:"theme"`
	Name   string `json:"name" toml:"name"`
	Host   string `json:"host,omitempty" toml:"host,omitempty"`
	Ref    string `json:"ref,omitempty" toml:"ref,omitempty"`
	Root   string `json:"root" toml:"root"`
	Local  bool   `json:"local" toml:"local"`
	Cached bool   `json:"cached" toml:"cached"`
	Reused bool   `json:"reused" toml:"reused"`
}

func newResolveView(res *resolver.Result, cached bool) resolveView {
	ref := res.Reference
	return resolveView{
		Theme:  ref.NameWithOwner(),
		Name:   res.Theme.Name(),
		Host:   ref.Host,
		Ref:    res.Ref,
		Root:   res.Root,
		Local:  ref.Local,
		Cached: cached && !ref.Local,
		Reused: res.Reused,
	}
}

func newResolveCmd() *cobra.Command {
	resolveCmd := &cobra.Command{
		Use:   "resolve [theme]",
		Short: "Download and extract a theme",
		Long: `Resolves a theme and prints the directory it was extracted to.

The theme may be owner/name[@ref], a URL on an allowed host, or a local
directory. Without an argument, remote_theme from the site configuration is
used. With caching disabled the extracted directory is removed on exit unless
--keep is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runResolve,
	}

	resolveCmd.Flags().Bool("keep", false, "keep the temporary directory when caching is disabled")
	resolveCmd.Flags().StringP("output", "o", formatText, "output format: text, json, yaml or toml")
	return resolveCmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	keep, err := cmd.Flags().GetBool("keep")
	if err != nil {
		return err
	}
	format, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	raw, err := themeArg(args)
	if err != nil {
		return err
	}

	r := newResolver()
	res, err := r.Resolve(cmd.Context(), raw)
	if err != nil {
		return err
	}
	if !keep {
		defer func() {
			if err := res.Cleanup(); err != nil {
				Logger.Warn("Removing theme directory failed", "root", res.Root, "err", err)
			}
		}()
	}

	view := newResolveView(res, Cfg.Cache.Enabled)
	return render(cmd.OutOrStdout(), format, view, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, view.Root)
		return err
	})
}
