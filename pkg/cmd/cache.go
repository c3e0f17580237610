package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/remotetheme/remotetheme/pkg/store"
	"github.com/remotetheme/remotetheme/pkg/theme"
	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clean the theme cache",
	}

	pathCmd := &cobra.Command{
		Use:   "path [theme]",
		Short: "Print the cache directory, or where a theme would be cached",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCachePath,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cached themes",
		Args:  cobra.NoArgs,
		RunE:  runCacheList,
	}
	listCmd.Flags().StringP("output", "o", formatText, "output format: text, json, yaml or toml")

	cleanCmd := &cobra.Command{
		Use:   "clean [theme]",
		Short: "Remove cached themes",
		Long:  "Removes every cached theme, or only the versions of the given theme.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCacheClean,
	}
	cleanCmd.Flags().BoolP("yes", "y", false, "remove without prompting")

	cacheCmd.AddCommand(pathCmd)
	cacheCmd.AddCommand(listCmd)
	cacheCmd.AddCommand(cleanCmd)
	return cacheCmd
}

// parseTheme parses and validates raw against the loaded configuration.
func parseTheme(raw string) (*theme.Reference, error) {
	ref, err := theme.Parse(raw, newResolver().Parse)
	if err != nil {
		return nil, err
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return ref, nil
}

func runCachePath(cmd *cobra.Command, args []string) error {
	root := Cfg.CachePath()
	if len(args) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), root)
		return err
	}

	ref, err := parseTheme(args[0])
	if err != nil {
		return err
	}
	if ref.Local {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), ref.Path)
		return err
	}

	segments := store.Segments(ref, ref.Ref(cmd.Context()))
	_, err = fmt.Fprintln(cmd.OutOrStdout(), store.New(root).Path(segments...))
	return err
}

type cacheEntry struct {
	Theme       string     `json:"theme" toml:"theme"`
	Ref         string     `json:"ref" toml:"ref"`
	Root        string     `json:"root" toml:"root"`
	Complete    bool       `json:"complete" toml:"complete"`
	URL         string     `json:"url,omitempty" toml:"url,omitempty"`
	SHA256      string     `json:"sha256,omitempty" toml:"sha256,omitempty"`
	InstalledAt *time.Time `json:"installed_at,omitempty" toml:"installed_at,omitempty"`
}

type cacheListView struct {
	Root   string       `json:"root" toml:"root"`
	Themes []cacheEntry `json:"themes" toml:"themes"`
}

// listCache walks root/owner/name/ref and reports every extraction found.
func listCache(root string) ([]cacheEntry, error) {
	dirs, err := filepath.Glob(filepath.Join(root, "*", "*", "*"))
	if err != nil {
		return nil, err
	}

	entries := []cacheEntry{}
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(root, dir)
		if err != nil {
			continue
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 {
			continue
		}

		entry := cacheEntry{Theme: parts[0] + "/" + parts[1], Ref: parts[2], Root: dir}
		m, err := store.New(dir).ReadMarker()
		switch {
		case err == nil:
			entry.Complete = true
			entry.URL = m.URL
			entry.SHA256 = m.SHA256
			entry.InstalledAt = &m.InstalledAt
		case !errors.Is(err, fs.ErrNotExist):
			Logger.Warn("Unreadable cache marker", "root", dir, "err", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func runCacheList(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	root := Cfg.CachePath()
	entries, err := listCache(root)
	if err != nil {
		return err
	}

	view := cacheListView{Root: root, Themes: entries}
	return render(cmd.OutOrStdout(), format, view, func(w io.Writer) error {
		if len(entries) == 0 {
			_, err := fmt.Fprintln(w, "No cached themes")
			return err
		}
		for _, e := range entries {
			state := "complete"
			if !e.Complete {
				state = "incomplete"
			}
			if _, err := fmt.Fprintf(w, "%s@%s\t%s\t%s\n", e.Theme, e.Ref, state, e.Root); err != nil {
				return err
			}
		}
		return nil
	})
}

func runCacheClean(cmd *cobra.Command, args []string) error {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return err
	}

	root := Cfg.CachePath()
	s := store.New(root)
	var segments []string
	target := root
	if len(args) > 0 {
		ref, err := parseTheme(args[0])
		if err != nil {
			return err
		}
		if ref.Local {
			return fmt.Errorf("%s is a local theme and is never cached", ref.Path)
		}
		segments = []string{store.Sanitize(ref.Owner), store.Sanitize(ref.Name)}
		target = s.Path(segments...)
	}

	exists, err := s.Exists(segments...)
	if err != nil {
		return err
	}
	if !exists {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to remove")
		return nil
	}

	if !yes {
		confirmed := false
		err := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Remove %s?", target)).
					Affirmative("Remove").
					Negative("Cancel").
					Value(&confirmed),
			),
		).Run()
		if err != nil {
			return fmt.Errorf("confirmation prompt failed: %w", err)
		}
		if !confirmed {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing removed")
			return nil
		}
	}

	if err := s.Remove(segments...); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", target)
	return nil
}
