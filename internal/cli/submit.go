package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/ledgerwatch/internal/client"
	"github.com/ppiankov/ledgerwatch/internal/policy"
)

// TokenEnv holds the bearer credential for client commands.
const TokenEnv = "LEDGERWATCH_TOKEN"

var (
	submitServer  string
	submitType    string
	submitAsset   string
	submitAmount  string
	submitDest    string
	submitMemo    string
	submitKey     string
	submitFile    string
	submitTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVar(&submitServer, "server", "127.0.0.1:8741", "gRPC server address")
	submitCmd.Flags().StringVar(&submitType, "type", "transfer", "Transaction type")
	submitCmd.Flags().StringVar(&submitAsset, "asset", "", "Asset id")
	submitCmd.Flags().StringVar(&submitAmount, "amount", "", "Decimal amount")
	submitCmd.Flags().StringVar(&submitDest, "destination", "", "Destination ledger address")
	submitCmd.Flags().StringVar(&submitMemo, "memo", "", "Memo")
	submitCmd.Flags().StringVar(&submitKey, "idempotency-key", "", "Client nonce; retries with the same key replay the first result")
	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "Read the raw JSON request from a file (- for stdin)")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 2*time.Minute, "Overall request timeout")
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a transaction request to a running server",
	Long: "Sends one request to ledgerwatch serve over gRPC and prints the JSON response.\n" +
		"The bearer credential is read from " + TokenEnv + ". Exits non-zero when the request fails.",
	RunE: runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	raw, err := submitRequest()
	if err != nil {
		return err
	}

	c, err := client.Dial(submitServer, os.Getenv(TokenEnv))
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	resp, execErr := c.Execute(ctx, raw)
	if resp.RequestID == "" && execErr != nil {
		return execErr
	}
	out, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	if execErr != nil {
		return fmt.Errorf("request %s failed with status %d", resp.RequestID, resp.Status())
	}
	return nil
}

// submitRequest builds the raw request from --file or from flags.
func submitRequest() (map[string]any, error) {
	if submitFile != "" {
		var data []byte
		var err error
		if submitFile == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(submitFile)
		}
		if err != nil {
			return nil, fmt.Errorf("read request: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var raw map[string]any
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse request: %w", err)
		}
		if raw == nil {
			return nil, errors.New("request must be a JSON object")
		}
		return normalizeNumbers(raw), nil
	}

	raw := map[string]any{policy.FieldTransactionType: submitType}
	for name, v := range map[string]string{
		policy.FieldAssetID:        submitAsset,
		policy.FieldAmount:         submitAmount,
		policy.FieldDestination:    submitDest,
		policy.FieldMemo:           submitMemo,
		policy.FieldIdempotencyKey: submitKey,
	} {
		if v != "" {
			raw[name] = v
		}
	}
	return raw, nil
}

// normalizeNumbers turns json.Number into strings, which structpb accepts and
// the validator parses exactly.
func normalizeNumbers(raw map[string]any) map[string]any {
	for k, v := range raw {
		if n, ok := v.(json.Number); ok {
			raw[k] = n.String()
		}
	}
	return raw
}
