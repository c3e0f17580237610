package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/remotetheme/remotetheme/pkg/config"
	"github.com/remotetheme/remotetheme/pkg/theme"
	"github.com/spf13/cobra"
)

// configView is the effective configuration as printed by the config
// command. The auth token is reported as set or unset, and credential
// headers are redacted.
type configView struct {
	Source              string            `json:"source" toml:"source"`
	RemoteTheme         string            `json:"remote_theme,omitempty" toml:"remote_theme,omitempty"`
	Repository          string            `json:"repository,omitempty" toml:"repository,omitempty"`
	Host                string            `json:"host" toml:"host"`
	CacheEnabled        bool              `json:"cache_enabled" toml:"cache_enabled"`
	CachePath           string            `json:"cache_path" toml:"cache_path"`
	Timeout             string            `json:"timeout" toml:"timeout"`
	AuthToken           bool              `json:"auth_token" toml:"auth_token"`
	CustomHeaders       map[string]string `json:"custom_headers,omitempty" toml:"custom_headers,omitempty"`
	AllowedDependencies []string          `json:"allowed_dependencies" toml:"allowed_dependencies"`
}

func newConfigView(cfg *config.Config) configView {
	host := cfg.AlternateHostname
	if host == "" {
		host = theme.DefaultHost
	}
	allowed := cfg.AllowedDependencies()
	if allowed == nil {
		allowed = []string{}
	}
	return configView{
		Source:              cfg.Source,
		RemoteTheme:         cfg.RemoteTheme,
		Repository:          cfg.Repository,
		Host:                host,
		CacheEnabled:        cfg.Cache.Enabled,
		CachePath:           cfg.CachePath(),
		Timeout:             cfg.Timeout.String(),
		AuthToken:           cfg.AuthToken != "",
		CustomHeaders:       redactHeaders(cfg.CustomHeaders),
		AllowedDependencies: allowed,
	}
}

const redacted = "[redacted]"

// credentialHeaderMarkers flag header names whose values are never printed.
var credentialHeaderMarkers = []string{"authorization", "token", "secret", "cookie", "password", "api-key", "apikey"}

func redactHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		out[name] = value
		lower := strings.ToLower(name)
		for _, marker := range credentialHeaderMarkers {
			if strings.Contains(lower, marker) {
				out[name] = redacted
				break
			}
		}
	}
	return out
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Prints the configuration after merging defaults, ~/.remote-theme/config.toml,
the site's _config.yml, environment variables and flags.`,
		Args: cobra.NoArgs,
		RunE: runConfig,
	}

	configCmd.Flags().StringP("output", "o", formatTOML, "output format: text, json, yaml or toml")
	return configCmd
}

func runConfig(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	view := newConfigView(Cfg)
	return render(cmd.OutOrStdout(), format, view, func(w io.Writer) error {
		fmt.Fprintf(w, "source:      %s\n", view.Source)
		fmt.Fprintf(w, "theme:       %s\n", view.RemoteTheme)
		fmt.Fprintf(w, "host:        %s\n", view.Host)
		fmt.Fprintf(w, "cache:       %t (%s)\n", view.CacheEnabled, view.CachePath)
		fmt.Fprintf(w, "timeout:     %s\n", view.Timeout)
		fmt.Fprintf(w, "auth token:  %t\n", view.AuthToken)
		for _, k := range sortedKeys(view.CustomHeaders) {
			fmt.Fprintf(w, "header:      %s: %s\n", k, view.CustomHeaders[k])
		}
		_, err := fmt.Fprintf(w, "plugins:     %v\n", view.AllowedDependencies)
		return err
	})
}

// sortedKeys returns the keys of a map sorted alphabetically.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
