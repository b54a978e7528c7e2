package main

import (
	"github.com/spf13/cobra"

	"github.com/kode4food/wireflow"
	"github.com/kode4food/wireflow/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   wireflow.Name,
		Short: "Wireflow is an embeddable flow-based programming runtime",
		Long: `Wireflow runs graphs of nodes connected by wires. Flows are
deployed and managed through an HTTP admin API and persisted to a flow
file under the user directory.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP(
		"settings", "s", "", "YAML settings file",
	)
	root.PersistentFlags().StringP(
		"user-dir", "u", "", "directory holding the flow file",
	)

	root.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newDeployCmd(),
		newInjectCmd(),
		newHashPasswordCmd(),
		newVersionCmd(),
	)
	return root
}

// loadSettings layers the settings file, the environment, and then the
// command line onto the defaults. An optional argument names the flow file
func loadSettings(cmd *cobra.Command, args []string) (*config.Settings, error) {
	st := config.NewDefaultSettings()

	if path, _ := cmd.Flags().GetString("settings"); path != "" {
		if err := st.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := st.LoadFromEnv(); err != nil {
		return nil, err
	}

	if dir, _ := cmd.Flags().GetString("user-dir"); dir != "" {
		st.UserDir = dir
	}
	if f := cmd.Flags().Lookup("port"); f != nil && f.Changed {
		port, _ := cmd.Flags().GetInt("port")
		st.UIPort = port
	}
	if len(args) > 0 {
		st.FlowFile = args[0]
	}
	return st, nil
}
