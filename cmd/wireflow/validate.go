package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kode4food/wireflow"
	"github.com/kode4food/wireflow/internal/storage"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [flow-file]",
		Short: "Check the settings and the stored flow definition",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := loadSettings(cmd, args)
			if err != nil {
				return err
			}
			if err := st.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := storage.Open(ctx, st.BucketURL(), st.FlowFile)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			def, err := store.Load(ctx)
			if err != nil {
				return err
			}
			if err := def.Resolve(wireflow.New().Nodes()); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"%s: %d flows, %d subflows, %d nodes (rev %s)\n",
				st.FlowFile, len(def.Flows), len(def.Subflows),
				len(def.Nodes), def.Rev(),
			)
			return err
		},
	}
}
