package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nmxmxh/sporemesh/internal/cli/ui"
	"github.com/nmxmxh/sporemesh/pkg/auth"
)

func keygenCmd() *cobra.Command {
	var identityPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create or inspect this node's persistent identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if force {
				id, err := auth.NewIdentity()
				if err != nil {
					return fmt.Errorf("generate identity: %w", err)
				}
				if err := auth.SaveIdentity(id, identityPath); err != nil {
					return fmt.Errorf("save identity: %w", err)
				}
				fmt.Print(ui.KeyValues("", ui.KV("peer id", ui.Accent(id.PeerID.String())), ui.KV("path", identityPath)))
				return nil
			}

			id, err := auth.LoadOrCreateIdentity(identityPath)
			if err != nil {
				return fmt.Errorf("load or create identity: %w", err)
			}
			fmt.Print(ui.KeyValues("", ui.KV("peer id", ui.Accent(id.PeerID.String())), ui.KV("path", identityPath)))
			return nil
		},
	}

	cmd.Flags().StringVar(&identityPath, "identity", "./sporenode.key", "path to the node's persisted identity")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing identity with a fresh one")
	return cmd
}
