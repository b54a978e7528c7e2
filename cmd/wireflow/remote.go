package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/client"
)

const (
	defaultAdminURL = "http://127.0.0.1:1880"
	passwordEnv     = "WIREFLOW_PASSWORD"
)

func newDeployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy <flow-file>",
		Short: "Deploy a flow file to a running instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if !json.Valid(data) {
				return fmt.Errorf("%w: %s is not JSON",
					api.ErrInvalidDefinition, args[0])
			}

			mode, _ := cmd.Flags().GetString("mode")
			dm, err := api.ParseDeployMode(mode)
			if err != nil {
				return err
			}
			rev, _ := cmd.Flags().GetString("rev")

			c, err := remoteClient(cmd)
			if err != nil {
				return err
			}
			res, err := c.Deploy(cmd.Context(), data, dm, rev)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"deployed rev %s (%s): %d added, %d changed, %d removed, "+
					"%d rewired\n",
				res.Rev, res.Mode, len(res.Diff.Added),
				len(res.Diff.Changed), len(res.Diff.Removed),
				len(res.Diff.Rewired),
			)
			return err
		},
	}
	addRemoteFlags(cmd)
	cmd.Flags().String("mode", string(api.DeployFull),
		"deploy mode: full, flows, or nodes",
	)
	cmd.Flags().String("rev", "", "revision the deploy must replace")
	return cmd
}

func newInjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inject <node-id> [payload]",
		Short: "Trigger an input node of a running instance",
		Long: `Triggers an input node. The optional payload is parsed as JSON
and falls back to a plain string.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var msg api.Message
			if len(args) > 1 {
				var payload any
				if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
					payload = args[1]
				}
				msg = api.Message{api.PayloadKey: payload}
			}

			c, err := remoteClient(cmd)
			if err != nil {
				return err
			}
			id := api.NodeID(args[0])
			if err := c.Inject(cmd.Context(), id, msg); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "injected %s\n", id)
			return err
		},
	}
	addRemoteFlags(cmd)
	return cmd
}

func addRemoteFlags(cmd *cobra.Command) {
	cmd.Flags().String("url", defaultAdminURL, "admin API base URL")
	cmd.Flags().String("username", "", "admin user to log in as")
	cmd.Flags().String("password", "",
		"admin password, defaults to $"+passwordEnv,
	)
	cmd.Flags().Duration("timeout", client.DefaultTimeout,
		"request timeout",
	)
}

// remoteClient builds an admin API client from the command's flags and
// logs in when a username is given
func remoteClient(cmd *cobra.Command) (*client.Client, error) {
	url, _ := cmd.Flags().GetString("url")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	c := client.NewClient(url, client.WithTimeout(timeout))

	user, _ := cmd.Flags().GetString("username")
	if user == "" {
		return c, nil
	}
	pw, _ := cmd.Flags().GetString("password")
	if pw == "" {
		pw = os.Getenv(passwordEnv)
	}
	if err := c.Login(cmd.Context(), user, pw); err != nil {
		return nil, err
	}
	return c, nil
}
