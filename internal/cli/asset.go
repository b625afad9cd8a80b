package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/ledgerwatch/internal/model"
)

var assetFile string

func init() {
	rootCmd.AddCommand(assetCmd)
	assetCmd.AddCommand(assetPutCmd, assetShowCmd, assetListCmd)
	assetPutCmd.Flags().StringVarP(&assetFile, "file", "f", "", "Asset YAML file (- for stdin)")
	_ = assetPutCmd.MarkFlagRequired("file")
}

var assetCmd = &cobra.Command{
	Use:   "asset",
	Short: "Manage asset records and their compliance rules",
}

var assetPutCmd = &cobra.Command{
	Use:   "put",
	Short: "Create or replace an asset from YAML",
	Long: `Reads an asset definition and stores it. Example:

  id: gold-1
  symbol: GLD
  issuer_address: rN7n7otQDd6FczFgLdSqtcsAUxDkw6fzRH
  currency_code: GLD
  creator_id: alice
  total_supply: "1000000"
  circulating_supply: "0"
  rules:
    kyc_required: true
    daily_limit: "5000"
    admin_approval_required: false`,
	Args: cobra.NoArgs,
	RunE: runAssetPut,
}

var assetShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one asset record",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssetShow,
}

var assetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List asset records",
	Args:  cobra.NoArgs,
	RunE:  runAssetList,
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func parseAsset(data []byte) (model.Asset, error) {
	var a model.Asset
	if err := yaml.Unmarshal(data, &a); err != nil {
		return model.Asset{}, fmt.Errorf("parse asset: %w", err)
	}
	if a.ID == "" {
		return model.Asset{}, fmt.Errorf("asset id is required")
	}
	if a.Symbol == "" {
		return model.Asset{}, fmt.Errorf("asset %s: symbol is required", a.ID)
	}
	if a.TotalSupply.IsNegative() || a.CirculatingSupply.IsNegative() || a.Rules.DailyLimit.IsNegative() {
		return model.Asset{}, fmt.Errorf("asset %s: amounts must not be negative", a.ID)
	}
	if a.TotalSupply.IsPositive() && a.CirculatingSupply.GreaterThan(a.TotalSupply) {
		return model.Asset{}, fmt.Errorf("asset %s: circulating supply exceeds total supply", a.ID)
	}
	return a, nil
}

func runAssetPut(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, assetFile)
	if err != nil {
		return err
	}
	a, err := parseAsset(data)
	if err != nil {
		return err
	}

	ctx := context.Background()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.PutAsset(ctx, a); err != nil {
		return fmt.Errorf("failed to store asset: %w", err)
	}
	stored, err := st.GetAsset(ctx, a.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored asset %s (%s) version %d\n", stored.ID, stored.Symbol, stored.Version)
	return nil
}

func runAssetShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	a, err := st.GetAsset(ctx, args[0])
	if err != nil {
		return fmt.Errorf("asset %s: %w", args[0], err)
	}
	return printJSON(cmd, a)
}

func runAssetList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	assets, err := st.ListAssets(ctx)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if len(assets) == 0 {
		fmt.Fprintln(w, "No assets.")
		return nil
	}
	fmt.Fprintf(w, "%-16s %-8s %-18s %-18s %s\n", "ID", "SYMBOL", "CIRCULATING", "TOTAL", "RULES")
	for _, a := range assets {
		fmt.Fprintf(w, "%-16s %-8s %-18s %-18s %s\n",
			truncate(a.ID, 16), a.Symbol, a.CirculatingSupply, a.TotalSupply, describeRules(a.Rules))
	}
	return nil
}

func describeRules(r model.AssetRules) string {
	s := ""
	if r.KYCRequired {
		s += "kyc "
	}
	if r.DailyLimit.IsPositive() {
		s += "daily<=" + r.DailyLimit.String() + " "
	}
	if r.AdminApprovalRequired {
		s += "approval "
	}
	if s == "" {
		return "-"
	}
	return s[:len(s)-1]
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
