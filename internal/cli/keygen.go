package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/ledgerwatch/internal/signer"
)

var (
	keygenFromEnv string
	keygenQuiet   bool
)

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVar(&keygenFromEnv, "from-env", "", "Derive the address of the key held in this environment variable instead of generating one")
	keygenCmd.Flags().BoolVarP(&keygenQuiet, "quiet", "q", false, "Print only the private key hex")
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a signing key or show the address of an existing one",
	Long: "Generates a secp256k1 signing key and prints the account address it controls.\n" +
		"Store the key in the environment variable named by signer.key_env; it is never written to disk.",
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

func runKeygen(cmd *cobra.Command, args []string) error {
	var (
		w      *signer.Wallet
		keyHex string
		err    error
	)
	if keygenFromEnv != "" {
		keyHex = strings.TrimSpace(os.Getenv(keygenFromEnv))
		if keyHex == "" {
			return fmt.Errorf("%s is empty", keygenFromEnv)
		}
		w, err = signer.NewWallet(keyHex)
	} else {
		w, keyHex, err = signer.GenerateWallet()
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if keygenQuiet {
		fmt.Fprintln(out, keyHex)
		return nil
	}
	fmt.Fprintf(out, "address:     %s\n", w.Address())
	fmt.Fprintf(out, "public key:  %s\n", w.PublicKey())
	if keygenFromEnv == "" {
		fmt.Fprintf(out, "private key: %s\n", keyHex)
	}
	return nil
}
