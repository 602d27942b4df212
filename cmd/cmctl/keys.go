package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"contramind/internal/attestor"
)

func keysCmd(opts *clientOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List the attestor's public keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var set attestor.KeySet
			if err := opts.client().get(cmd.Context(), "/keys", nil, &set); err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(set)
			}
			printKeySet(cmd, set)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Print the key set as JSON (usable with verify --keys)")

	cmd.AddCommand(rotateCmd(opts))
	return cmd
}

func rotateCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate [kid]",
		Short: "Activate a new signing key id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := attestor.ValidateKID(args[0]); err != nil {
				return err
			}
			var set attestor.KeySet
			if err := opts.client().post(cmd.Context(), "/admin/keys/rotate", map[string]string{"kid": args[0]}, &set); err != nil {
				return err
			}
			printKeySet(cmd, set)
			return nil
		},
	}
}

func printKeySet(cmd *cobra.Command, set attestor.KeySet) {
	kids := make([]string, 0, len(set.Keys))
	for kid := range set.Keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	out := cmd.OutOrStdout()
	for _, kid := range kids {
		marker := " "
		if kid == set.ActiveKID {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %-16s %s\n", marker, kid, set.Keys[kid])
	}
}

// loadKeySet reads a key set written by `cmctl keys --json` or served at /keys.
func loadKeySet(path string) (attestor.KeySet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return attestor.KeySet{}, fmt.Errorf("read key set: %w", err)
	}
	var set attestor.KeySet
	if err := json.Unmarshal(raw, &set); err != nil {
		return attestor.KeySet{}, fmt.Errorf("parse key set %s: %w", path, err)
	}
	if len(set.Keys) == 0 {
		return attestor.KeySet{}, fmt.Errorf("key set %s has no keys", path)
	}
	return set, nil
}
