package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/remotetheme/remotetheme/pkg/manifest"
	"github.com/remotetheme/remotetheme/pkg/resolver"
	"github.com/spf13/cobra"
)

type depsView struct {
	Theme    string                `json:"theme" toml:"theme"`
	Manifest string                `json:"manifest,omitempty" toml:"manifest,omitempty"`
	Version  string                `json:"version" toml:"version"`
	Summary  string                `json:"summary,omitempty" toml:"summary,omitempty"`
	Homepage string                `json:"homepage,omitempty" toml:"homepage,omitempty"`
	License  string                `json:"license,omitempty" toml:"license,omitempty"`
	Authors  []string              `json:"authors" toml:"authors"`
	Metadata map[string]string     `json:"metadata,omitempty" toml:"metadata,omitempty"`
	Allowed  []manifest.Dependency `json:"allowed" toml:"allowed"`
	Skipped  []manifest.Dependency `json:"skipped" toml:"skipped"`
}

func newDepsView(res *resolver.Result, report *resolver.DependencyReport) depsView {
	m := report.Manifest
	return depsView{
		Theme:    res.Reference.NameWithOwner(),
		Manifest: m.Path,
		Version:  m.SemVer().String(),
		Summary:  m.Summary,
		Homepage: m.Homepage,
		License:  m.License,
		Authors:  m.Authors,
		Metadata: m.Metadata,
		Allowed:  report.Allowed,
		Skipped:  report.Skipped,
	}
}

func newDepsCmd() *cobra.Command {
	depsCmd := &cobra.Command{
		Use:   "deps [theme]",
		Short: "List the plugins a theme depends on",
		Long: `Resolves a theme, reads its gemspec and lists the runtime dependencies it
declares. Dependencies that are not in the site's plugins or whitelist are
reported as skipped. The gemspec is read as text and never evaluated.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runDeps,
	}

	depsCmd.Flags().StringP("output", "o", formatText, "output format: text, json, yaml or toml")
	return depsCmd
}

func runDeps(cmd *cobra.Command, args []string) error {
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
	defer func() {
		if err := res.Cleanup(); err != nil {
			Logger.Warn("Removing theme directory failed", "root", res.Root, "err", err)
		}
	}()

	report, err := r.Dependencies(res)
	if err != nil {
		return err
	}

	view := newDepsView(res, report)
	return render(cmd.OutOrStdout(), format, view, func(w io.Writer) error {
		return writeDepsText(w, view)
	})
}

func writeDepsText(w io.Writer, v depsView) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", v.Theme, v.Version)
	if v.Manifest == "" {
		b.WriteString("  no gemspec found\n")
	}
	if v.Summary != "" {
		fmt.Fprintf(&b, "  %s\n", v.Summary)
	}
	if v.Homepage != "" {
		fmt.Fprintf(&b, "  homepage: %s\n", v.Homepage)
	}
	if v.License != "" {
		fmt.Fprintf(&b, "  license: %s\n", v.License)
	}
	if len(v.Authors) > 0 {
		fmt.Fprintf(&b, "  authors: %s\n", strings.Join(v.Authors, ", "))
	}
	for _, k := range sortedKeys(v.Metadata) {
		fmt.Fprintf(&b, "  %s: %s\n", k, v.Metadata[k])
	}

	writeDeps(&b, "Allowed", v.Allowed)
	writeDeps(&b, "Skipped", v.Skipped)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeDeps(b *strings.Builder, title string, deps []manifest.Dependency) {
	fmt.Fprintf(b, "%s (%d):\n", title, len(deps))
	for _, d := range deps {
		if len(d.Requirements) == 0 {
			fmt.Fprintf(b, "  %s\n", d.Name)
			continue
		}
		fmt.Fprintf(b, "  %s %s\n", d.Name, strings.Join(d.Requirements, ", "))
	}
}
