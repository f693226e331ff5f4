package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitasync/vitasync/pkg/version"
)

// New creates a new `version` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of vitasync.",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("vitasync version: %s\n", version.Version)
		},
	}
}
