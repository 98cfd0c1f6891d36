package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/objectfs/cachemgr/internal/backend"
	"github.com/objectfs/cachemgr/internal/kvstore"
	"github.com/objectfs/cachemgr/pkg/utils"
)

func invalidateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <pattern>",
		Short: "Remove persisted entries whose key contains pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m, _, err := opts.manager(ctx)
			if err != nil {
				return err
			}
			defer m.Close()

			removed, err := m.InvalidatePattern(ctx, args[0])
			if err != nil {
				return fmt.Errorf("invalidate %q: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d keys matching %q\n", removed, args[0])
			return nil
		},
	}
}

func keysCmd(opts *globalOptions) *cobra.Command {
	var (
		prefix    string
		cacheName string
	)

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List persisted keys and their sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m, cfg, err := opts.manager(ctx)
			if err != nil {
				return err
			}
			defer m.Close()

			if cacheName != "" {
				prefix = backend.Namespace(cfg.Persisted.KeyPrefix, cacheName) + prefix
			}

			store := m.KVStore()
			keys, err := kvstore.KeysWithPrefix(ctx, store, prefix)
			if err != nil {
				return fmt.Errorf("list keys: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tSIZE")
			var total int64
			for _, key := range keys {
				value, ok, err := store.GetItem(ctx, key)
				if err != nil {
					return fmt.Errorf("read %q: %w", key, err)
				}
				if !ok {
					continue
				}
				size := int64(len(key) + len(value))
				total += size
				fmt.Fprintf(w, "%s\t%s\n", key, utils.FormatBytes(size))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d keys, %s\n", len(keys), utils.FormatBytes(total))
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "Only list keys starting with this prefix")
	cmd.Flags().StringVar(&cacheName, "cache", "", "Only list keys of this cache (combined with --prefix)")

	return cmd
}

func clearCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear every configured cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m, _, err := opts.manager(ctx)
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.ClearAll(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d caches\n", len(m.Names()))
			return nil
		},
	}
}
