package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taxdesk/taxdesk-cli/internal/output"
	"github.com/taxdesk/taxdesk-cli/internal/version"
)

// versionInfo is the JSON form of taxdesk version.
type versionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
	Dev     bool   `json:"dev"`
}

// NewVersionCmd prints build metadata. It runs without configuration.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				w := output.New(output.Options{Format: output.FormatJSON, Writer: cmd.OutOrStdout()})
				return w.OK(versionInfo{
					Version: version.Version,
					Commit:  version.Commit,
					Date:    version.Date,
					Dev:     version.IsDev(),
				}, output.WithSummary(version.Full()))
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
			return nil
		},
	}
}
