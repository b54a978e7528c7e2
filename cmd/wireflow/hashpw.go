package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kode4food/wireflow/internal/auth"
)

var ErrEmptyPassword = errors.New("password is empty")

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-pw [password]",
		Short: "Hash a password for an adminAuth user entry",
		Long: `Prints the bcrypt hash of the password. Without an argument
the password is read from the first line of standard input.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pw string
			if len(args) > 0 {
				pw = args[0]
			} else {
				sc := bufio.NewScanner(cmd.InOrStdin())
				if sc.Scan() {
					pw = strings.TrimRight(sc.Text(), "\r")
				}
				if err := sc.Err(); err != nil {
					return err
				}
			}
			if pw == "" {
				return ErrEmptyPassword
			}

			hash, err := auth.HashPassword(pw)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}
