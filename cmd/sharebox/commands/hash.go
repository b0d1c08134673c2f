package commands

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/marmos91/sharebox/pkg/auth"
)

var (
	hashBcrypt bool
	hashCost   int
)

var hashCmd = &cobra.Command{
	Use:   "hash [password]",
	Short: "Compute the stored credential for a password",
	Long: `Print the credential to store for a password.

Clients send the lowercase hex SHA-256 digest of the password. By default
this prints that digest, ready for credentials.users. With --bcrypt it
prints a bcrypt hash of the digest instead, for a "bcrypt:" entry.

The password is read from stdin when not given as an argument.

Examples:
  sharebox hash s3cret
  echo -n s3cret | sharebox hash --bcrypt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHash,
}

func init() {
	hashCmd.Flags().BoolVar(&hashBcrypt, "bcrypt", false, "Wrap the sha256 digest in a bcrypt hash")
	hashCmd.Flags().IntVar(&hashCost, "cost", bcrypt.DefaultCost, "bcrypt cost")
}

func runHash(cmd *cobra.Command, args []string) error {
	var password string
	if len(args) == 1 {
		password = args[0]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password from stdin: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	digest := auth.HashPassword(password)
	if !hashBcrypt {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), digest)
		return nil
	}

	hashed, err := auth.BcryptDigest(digest, hashCost)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), hashed)
	return nil
}
