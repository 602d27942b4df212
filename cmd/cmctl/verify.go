package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"contramind/internal/attestor"
)

func verifyCmd(opts *clientOptions) *cobra.Command {
	var keysFile string
	cmd := &cobra.Command{
		Use:   "verify [certificate|-]",
		Short: "Verify a decision certificate offline",
		Long: `Verify checks the certificate signature under its kid, the embedded
bundle signature and the proof id. Keys come from --keys when given, otherwise
from the server's /keys endpoint. Pass "-" to read the certificate from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cert, err := readCertificate(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			set, err := resolveKeySet(cmd.Context(), opts, keysFile)
			if err != nil {
				return err
			}
			verifier, err := attestor.NewVerifierFromB64(set.Keys)
			if err != nil {
				return err
			}
			claims, err := verifier.Verify(cert)
			if err != nil {
				return fmt.Errorf("certificate rejected: %w", err)
			}

			kid, _ := attestor.KIDOf(cert)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"valid":      true,
				"kid":        kid,
				"proof_id":   claims.ProofID,
				"decision":   claims.Decision,
				"ts":         claims.TS,
				"kernel_id":  claims.KernelID,
				"param_hash": claims.ParamHash,
				"inputs":     claims.Inputs,
			})
		},
	}
	cmd.Flags().StringVarP(&keysFile, "keys", "k", "", "Key set JSON file (from `cmctl keys --json`)")
	return cmd
}

func readCertificate(arg string, stdin io.Reader) (string, error) {
	if arg != "-" {
		return strings.TrimSpace(arg), nil
	}
	raw, err := io.ReadAll(io.LimitReader(stdin, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read certificate: %w", err)
	}
	cert := strings.TrimSpace(string(raw))
	if cert == "" {
		return "", fmt.Errorf("no certificate on stdin")
	}
	return cert, nil
}

func resolveKeySet(ctx context.Context, opts *clientOptions, keysFile string) (attestor.KeySet, error) {
	if keysFile != "" {
		return loadKeySet(keysFile)
	}
	var set attestor.KeySet
	if err := opts.client().get(ctx, "/keys", nil, &set); err != nil {
		return attestor.KeySet{}, fmt.Errorf("fetch keys from %s: %w", opts.server, err)
	}
	return set, nil
}
