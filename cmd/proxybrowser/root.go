package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Rorqualx/proxybrowser-go/internal/config"
	"github.com/Rorqualx/proxybrowser-go/internal/cookies"
	"github.com/Rorqualx/proxybrowser-go/internal/profile"
	"github.com/Rorqualx/proxybrowser-go/internal/prompt"
	"github.com/Rorqualx/proxybrowser-go/internal/runner"
	"github.com/Rorqualx/proxybrowser-go/internal/types"
	"github.com/Rorqualx/proxybrowser-go/pkg/version"
)

// app holds state shared by the commands of one invocation.
type app struct {
	envFile    string
	saveCookie string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "proxybrowser",
		Short: "Open Chromium through an authenticated HTTP proxy",
		Long: "proxybrowser builds a small extension that routes Chromium through an\n" +
			"authenticated HTTP proxy, opens the configured URL with fingerprint\n" +
			"overrides and keeps the browser open until Enter is pressed.",
		Version:           version.Full(),
		Args:              usageArgs(cobra.NoArgs),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.loadConfig,
		RunE:              a.runSession,
	}

	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "env file to load before reading the environment (default .env)")
	root.Flags().StringVarP(&a.saveCookie, "save-cookie", "s", "", "save the session's cookies under this name on exit")

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", types.ErrInvalidConfig, err)
	})

	root.AddCommand(
		newExtensionCmd(a),
		newCookiesCmd(a),
		newVersionCmd(),
	)
	return root
}

// usageArgs marks argument validation failures as usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", types.ErrInvalidConfig, err)
		}
		return nil
	}
}

// loadConfig reads the env file and environment into a.cfg.
func (a *app) loadConfig(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return fmt.Errorf("%w: env file: %v", types.ErrInvalidConfig, err)
	}

	cfg := config.Load(nil)

	// Setup logging first so validation warnings are visible
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	a.cfg = cfg
	return nil
}

func (a *app) runSession(cmd *cobra.Command, args []string) error {
	printBanner()

	profiles, err := profile.NewManager(a.cfg.ProfilePath, a.cfg.ProfileHotReload)
	if err != nil {
		return err
	}
	defer profiles.Close()

	waiter := prompt.New(os.Stdin, os.Stdout)
	r := runner.New(a.cfg, runner.DefaultDeps(a.cfg, profiles, waiter))

	if err := r.Run(cmd.Context(), a.saveCookie); err != nil {
		return err
	}
	log.Info().Msg("Session finished")
	return nil
}

func newExtensionCmd(a *app) *cobra.Command {
	ext := &cobra.Command{
		Use:   "extension",
		Short: "Manage the proxy authentication extension",
		Args:  usageArgs(cobra.NoArgs),
	}

	var force bool
	build := &cobra.Command{
		Use:   "build",
		Short: "Build the extension archive if the proxy settings changed",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := runner.New(a.cfg, runner.DefaultDeps(a.cfg, nil, nil))
			archive, err := r.EnsureExtension(force)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), archive)
			return nil
		},
	}
	build.Flags().BoolVar(&force, "force", false, "rebuild even when the proxy settings are unchanged")

	ext.AddCommand(build)
	return ext
}

func newCookiesCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "cookies",
		Short: "Inspect saved cookie files",
		Args:  usageArgs(cobra.NoArgs),
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved cookie files and the sites they cover",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := cookies.NewStore(nil, a.cfg.URL)
			summaries, err := store.List(cmd.Context(), a.cfg.CookiesPath)
			if errors.Is(err, types.ErrNoCookieJars) {
				fmt.Fprintf(cmd.OutOrStdout(), "No cookie files in %s\n", a.cfg.CookiesPath)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJarTable(summaries))
			return nil
		},
	}

	c.AddCommand(list)
	return c
}

// renderJarTable formats jar summaries for the terminal.
func renderJarTable(summaries []cookies.JarSummary) string {
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		if s.Err != nil {
			rows = append(rows, []string{s.File, "-", "error: " + s.Err.Error()})
			continue
		}
		domains := "-"
		if len(s.Domains) > 0 {
			domains = joinLimited(s.Domains, 4)
		}
		rows = append(rows, []string{s.File, fmt.Sprint(s.Cookies), domains})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("FILE", "COOKIES", "DOMAINS").
		Rows(rows...).
		Render()
}

// joinLimited joins up to limit items and summarizes the rest.
func joinLimited(items []string, limit int) string {
	if len(items) <= limit {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s (+%d more)", strings.Join(items[:limit], ", "), len(items)-limit)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  usageArgs(cobra.NoArgs),
		// Version needs no configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "proxybrowser %s (%s)\n", version.Full(), version.GoVersion())
			fmt.Fprintf(cmd.OutOrStdout(), "user agent: %s\n", profile.Default().UserAgent)
			return nil
		},
	}
}
