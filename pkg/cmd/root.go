package cmd

import (
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/remotetheme/remotetheme/pkg/config"
	"github.com/remotetheme/remotetheme/pkg/fetch"
	"github.com/remotetheme/remotetheme/pkg/logging"
	"github.com/remotetheme/remotetheme/pkg/release"
	"github.com/remotetheme/remotetheme/pkg/resolver"
	"github.com/remotetheme/remotetheme/pkg/store"
	"github.com/remotetheme/remotetheme/pkg/theme"
	"github.com/spf13/cobra"
)

const releaseLookupTimeout = 30 * time.Second

var (
	flagSource  string
	flagConfig  string
	flagVerbose bool
	flagQuiet   bool

	// Cfg holds the resolved configuration, available to all subcommands
	// after PersistentPreRunE completes.
	Cfg *config.Config

	// Logger writes to stderr at the level chosen by --verbose and --quiet.
	Logger *log.Logger
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "remotetheme",
		Short: "Resolve remote Jekyll themes",
		Long:  "remotetheme downloads a site's remote theme from GitHub (or a GitHub Enterprise host) and makes it available on disk.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := log.InfoLevel
			switch {
			case flagQuiet:
				level = log.ErrorLevel
			case flagVerbose:
				level = log.DebugLevel
			}
			Logger = logging.New(cmd.ErrOrStderr(), level)

			cfg, err := config.Load(config.LoadOptions{
				SourceDir:  flagSource,
				ConfigFile: flagConfig,
				Flags:      cmd.Flags(),
			})
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			Cfg = cfg
			return nil
		},
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flagSource, "source", "s", "", "site source directory (default: working directory)")
	pf.StringVar(&flagConfig, "config", "", "site configuration file (default: <source>/_config.yml)")
	pf.BoolVarP(&flagVerbose, "verbose", "V", false, "print debug output")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "only print errors")
	pf.Bool("cache", false, "keep extracted themes in the cache directory between runs")
	pf.String("cache-path", "", "cache directory (default: "+config.DefaultCachePath+")")
	pf.Duration("timeout", config.DefaultTimeout, "timeout for a theme download")
	root.MarkFlagsMutuallyExclusive("verbose", "quiet")

	root.AddCommand(newResolveCmd())
	root.AddCommand(newDepsCmd())
	root.AddCommand(newCacheCmd())
	root.AddCommand(newConfigCmd())

	return root
}

// newResolver wires a Resolver from the loaded configuration.
func newResolver() *resolver.Resolver {
	lookup := release.NewGitHubLookup(
		release.WithToken(Cfg.AuthToken),
		release.WithUserAgent(fetch.DefaultUserAgent),
		release.WithHTTPClient(&http.Client{
			Timeout:   releaseLookupTimeout,
			Transport: &http.Transport{Proxy: fetch.ProxyFromEnvironment()},
		}),
	)

	return &resolver.Resolver{
		Parse: theme.ParseOptions{
			DefaultHost:   Cfg.AlternateHostname,
			RepositoryURL: Cfg.Repository,
			Lookup:        lookup,
			Logger:        Logger,
		},
		Cache: store.Options{
			Enabled: Cfg.Cache.Enabled,
			Path:    Cfg.CachePath(),
		},
		Fetcher: fetch.New(fetch.Options{
			Headers:   Cfg.CustomHeaders,
			AuthToken: Cfg.AuthToken,
			Timeout:   Cfg.Timeout,
			Logger:    Logger,
		}),
		AllowedDependencies: Cfg.AllowedDependencies(),
		Logger:              Logger,
	}
}

// themeArg returns the theme named on the command line, falling back to
// remote_theme from the configuration.
func themeArg(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if Cfg.RemoteTheme == "" {
		return "", errNoTheme
	}
	return Cfg.RemoteTheme, nil
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
