package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"contramind/internal/anchor"
	anchorhandler "contramind/internal/anchor/handler"
	"contramind/internal/anchor/models"
	"contramind/internal/attestor"
	ledgermodels "contramind/internal/ledger/models"
	ledgerstore "contramind/internal/ledger/store"
	"contramind/internal/platform/config"
	"contramind/internal/platform/postgres"
)

func anchorCmd(opts *clientOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anchor",
		Short: "Inspect and verify Merkle anchors",
	}
	cmd.AddCommand(anchorShowCmd(opts))
	cmd.AddCommand(anchorRunCmd(opts))
	cmd.AddCommand(anchorVerifyCmd(opts))
	return cmd
}

func anchorShowCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id|latest]",
		Short: "Print an anchor",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := "latest"
			if len(args) == 1 {
				ref = args[0]
			}
			a, err := fetchAnchor(cmd.Context(), opts, ref)
			if err != nil {
				return err
			}
			printAnchor(cmd, a)
			return nil
		},
	}
}

func anchorRunCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Build one anchor now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp anchorhandler.RunResponse
			if err := opts.client().post(cmd.Context(), "/admin/anchors/run", nil, &resp); err != nil {
				return err
			}
			if !resp.Anchored || resp.Anchor == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to anchor")
				return nil
			}
			printAnchor(cmd, resp.Anchor.Anchor())
			return nil
		},
	}
}

func anchorVerifyCmd(opts *clientOptions) *cobra.Command {
	var (
		databaseURL string
		keysFile    string
	)
	cmd := &cobra.Command{
		Use:   "verify [id|latest]",
		Short: "Recompute an anchor's Merkle root from the ledger and check its signature",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return fmt.Errorf("--database-url (or DATABASE_URL) is required to read the ledger")
			}
			ref := "latest"
			if len(args) == 1 {
				ref = args[0]
			}
			ctx := cmd.Context()

			a, err := fetchAnchor(ctx, opts, ref)
			if err != nil {
				return err
			}
			set, err := resolveKeySet(ctx, opts, keysFile)
			if err != nil {
				return err
			}

			db, err := postgres.Open(ctx, config.DatabaseConfig{URL: databaseURL, MaxOpenConns: 2})
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := ledgerstore.NewPostgres(db).Range(ctx, a.FromID, a.ToID)
			if err != nil {
				return fmt.Errorf("read ledger range %d..%d: %w", a.FromID, a.ToID, err)
			}
			if err := verifyAnchor(a, entries, set); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Anchor %d OK: %d entries %d..%d root %s signed by %s\n",
				a.ID, a.LeafCount, a.FromID, a.ToID, a.MerkleRoot, a.KID)
			return nil
		},
	}
	cmd.Flags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL URL of the ledger")
	cmd.Flags().StringVarP(&keysFile, "keys", "k", "", "Key set JSON file (from `cmctl keys --json`)")
	return cmd
}

// verifyAnchor checks the checkpoint signature first, then the range itself.
func verifyAnchor(a models.Anchor, entries []*ledgermodels.Entry, set attestor.KeySet) error {
	verifier, err := attestor.NewVerifierFromB64(set.Keys)
	if err != nil {
		return err
	}
	canon, err := a.Checkpoint().Canonical()
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(a.Signature)
	if err != nil {
		return fmt.Errorf("anchor %d: malformed signature: %w", a.ID, err)
	}
	if !verifier.VerifyBundle(canon, sig, a.KID) {
		return fmt.Errorf("anchor %d: checkpoint signature does not verify under %q", a.ID, a.KID)
	}
	if err := anchor.VerifyRange(entries, a); err != nil {
		return fmt.Errorf("anchor %d: %w", a.ID, err)
	}
	return nil
}

func fetchAnchor(ctx context.Context, opts *clientOptions, ref string) (models.Anchor, error) {
	path := "/anchors/latest"
	if ref != "latest" {
		id, err := strconv.ParseInt(ref, 10, 64)
		if err != nil || id < 1 {
			return models.Anchor{}, fmt.Errorf("anchor id must be a positive integer or \"latest\", got %q", ref)
		}
		path = "/anchors/" + strconv.FormatInt(id, 10)
	}
	var resp anchorhandler.AnchorResponse
	if err := opts.client().get(ctx, path, nil, &resp); err != nil {
		return models.Anchor{}, err
	}
	return resp.Anchor(), nil
}

func printAnchor(cmd *cobra.Command, a models.Anchor) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Anchor %d\n", a.ID)
	fmt.Fprintf(out, "  created:  %s\n", a.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(out, "  range:    %d..%d (%d entries)\n", a.FromID, a.ToID, a.LeafCount)
	fmt.Fprintf(out, "  root:     %s\n", a.MerkleRoot)
	fmt.Fprintf(out, "  kid:      %s\n", a.KID)
}
