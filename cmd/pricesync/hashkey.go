package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"solusiemas/api/internal/auth"

	"github.com/spf13/cobra"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [key]",
	Short: "Print a bcrypt hash to use as ADMIN_KEY",
	Long: `Hashes an admin key so the API can be configured with ADMIN_KEY set to
the hash instead of the plain secret. Reads the key from stdin when no
argument is given.

Example:
  printf 's3cret' | pricesync hash-key`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHashKey,
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}

func runHashKey(cmd *cobra.Command, args []string) error {
	var key string
	if len(args) == 1 {
		key = args[0]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return errors.New("no key given")
		}
		key = strings.TrimRight(line, "\r\n")
	}
	if key == "" {
		return errors.New("no key given")
	}

	hash, err := auth.HashKey(key)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
