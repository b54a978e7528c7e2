package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kode4food/wireflow"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n",
				wireflow.Name, wireflow.Version,
			)
			return err
		},
	}
}
