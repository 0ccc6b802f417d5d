package cli

import (
	"fmt"
	"strings"

	"github.com/ralt/repoctl/internal/config"
	"github.com/spf13/cobra"
)

// NewPublishedCmd creates the published command
func NewPublishedCmd() *cobra.Command {
	var mc config.ManagerConfig

	cmd := &cobra.Command{
		Use:   "published",
		Short: "List published snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			published, err := newAptly(mc).ListPublished(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, p := range published {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", p.Endpoint, p.Distribution, p.Snapshot, strings.Join(p.Architectures, ","))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mc.URL, "manager-url", config.DefaultConfig().Manager.URL, "Repository manager API URL")
	cmd.Flags().StringVar(&mc.Username, "username", "", "Repository manager user")
	cmd.Flags().StringVar(&mc.Password, "password", "", "Repository manager password")

	return cmd
}
