// Package cli assembles the taxdesk command tree and maps failures to exit
// codes.
package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/taxdesk/taxdesk-cli/internal/appctx"
	"github.com/taxdesk/taxdesk-cli/internal/commands"
	"github.com/taxdesk/taxdesk-cli/internal/config"
	"github.com/taxdesk/taxdesk-cli/internal/output"
	"github.com/taxdesk/taxdesk-cli/internal/version"
)

// skipSetup lists commands that run without configuration.
var skipSetup = map[string]bool{
	"help":       true,
	"version":    true,
	"completion": true,
}

// NewRootCmd creates the root cobra command. Output goes to stdout and
// diagnostics to stderr.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var flags appctx.GlobalFlags

	cmd := &cobra.Command{
		Use:           "taxdesk",
		Short:         "Admin client for the taxdesk API",
		Long:          "taxdesk lists, filters and edits tenant users through the admin API.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if skipSetup[cmd.Name()] {
				return nil
			}

			cfg, err := config.Load(flags.Overrides())
			if err != nil {
				return output.ErrUsage(err.Error())
			}
			if err := cfg.Validate(); err != nil {
				return output.ErrUsageHint(err.Error(), "Check `taxdesk config show`")
			}

			app := appctx.NewApp(cfg, flags, appctx.WithStdout(stdout), appctx.WithStderr(stderr))
			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app := appctx.FromContext(cmd.Context()); app != nil {
				app.Close()
			}
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate(version.Full() + "\n")

	// Allow flags anywhere in the command line
	cmd.Flags().SetInterspersed(true)
	cmd.PersistentFlags().SetInterspersed(true)

	// Output format flags
	cmd.PersistentFlags().BoolVarP(&flags.JSON, "json", "j", false, "Output as JSON")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Output data only, no envelope")
	cmd.PersistentFlags().BoolVar(&flags.Styled, "styled", false, "Force styled output (ANSI colors)")
	cmd.PersistentFlags().BoolVar(&flags.IDsOnly, "ids-only", false, "Output only IDs")
	cmd.PersistentFlags().BoolVar(&flags.Count, "count", false, "Output only count")

	// Connection flags
	cmd.PersistentFlags().StringVar(&flags.Host, "host", "", "API host (e.g., localhost:3000, admin.example.com)")
	cmd.PersistentFlags().StringVar(&flags.Tenant, "tenant", "", "Tenant ID sent as X-Tenant-ID")
	cmd.PersistentFlags().DurationVar(&flags.Timeout, "timeout", 0, "Per-request timeout (e.g., 15s)")
	cmd.PersistentFlags().StringVar(&flags.CacheDir, "cache-dir", "", "Cache directory")
	cmd.PersistentFlags().StringVar(&flags.EnvFile, "env-file", "", "Dotenv file to load (default .env)")

	// Behavior flags
	cmd.PersistentFlags().CountVarP(&flags.Verbose, "verbose", "v", "Verbose output (-v for retries and cache, -vv for requests)")
	cmd.PersistentFlags().BoolVar(&flags.Stats, "stats", false, "Show session statistics")

	cmd.AddCommand(commands.NewUsersCmd())
	cmd.AddCommand(commands.NewConfigCmd())
	cmd.AddCommand(commands.NewVersionCmd())

	return cmd
}

// Execute runs the root command against the process arguments and exits.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// Run executes args and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	// Use ExecuteC to get the executed command (for correct context access)
	executedCmd, err := cmd.ExecuteContextC(ctx)
	if err == nil {
		return output.ExitOK
	}

	err = transformCobraError(err)
	apiErr := output.AsError(err)

	// Prefer app.Err for --stats support
	if executedCmd != nil {
		if app := appctx.FromContext(executedCmd.Context()); app != nil {
			_ = app.Err(err)
			app.Close()
			return apiErr.ExitCode()
		}
	}

	// Setup failed before an app existed
	writer := output.New(output.Options{Format: fallbackFormat(cmd.PersistentFlags()), Writer: stdout})
	_ = writer.Err(err)
	return apiErr.ExitCode()
}

// fallbackFormat reads the output flags straight off the command line.
func fallbackFormat(pf *pflag.FlagSet) output.Format {
	quiet, _ := pf.GetBool("quiet")
	idsOnly, _ := pf.GetBool("ids-only")
	count, _ := pf.GetBool("count")
	styled, _ := pf.GetBool("styled")
	jsonFlag, _ := pf.GetBool("json")

	switch {
	case quiet:
		return output.FormatQuiet
	case idsOnly:
		return output.FormatIDs
	case count:
		return output.FormatCount
	case jsonFlag:
		return output.FormatJSON
	case styled:
		return output.FormatStyled
	default:
		return output.FormatAuto
	}
}

var (
	shorthandRE = regexp.MustCompile(`unknown shorthand flag: '.' in (-\w)`)
	requiredRE  = regexp.MustCompile(`required flag\(s\) (.+) not set`)
)

// transformCobraError turns cobra's argument errors into usage errors.
func transformCobraError(err error) error {
	var structured *output.Error
	if errors.As(err, &structured) {
		return err
	}
	msg := err.Error()

	switch {
	case strings.HasPrefix(msg, "flag needs an argument: "):
		flag := strings.TrimPrefix(msg, "flag needs an argument: ")
		return output.ErrUsage(flag + " requires a value")
	case strings.HasPrefix(msg, "unknown flag: "):
		return output.ErrUsage("Unknown option: " + strings.TrimPrefix(msg, "unknown flag: "))
	case strings.HasPrefix(msg, "unknown shorthand flag: "):
		if m := shorthandRE.FindStringSubmatch(msg); len(m) > 1 {
			return output.ErrUsage("Unknown option: " + m[1])
		}
		return output.ErrUsage(msg)
	case strings.HasPrefix(msg, "unknown command "):
		return output.ErrUsageHint(msg, "Run `taxdesk --help` for usage")
	case strings.Contains(msg, "invalid argument"):
		return output.ErrUsage(msg)
	case strings.Contains(msg, "arg(s), received 0"):
		return output.ErrUsageHint("Missing argument", msg)
	case strings.Contains(msg, "accepts ") && strings.Contains(msg, "arg(s)"):
		return output.ErrUsage(msg)
	case strings.HasPrefix(msg, "required flag(s) "):
		if m := requiredRE.FindStringSubmatch(msg); len(m) > 1 {
			return output.ErrUsage("Missing required flag: " + m[1])
		}
		return output.ErrUsage(msg)
	}
	return err
}
