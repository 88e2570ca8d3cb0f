package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newMountCmd(c *cli) *cobra.Command {
	var readOnly bool
	cmd := &cobra.Command{
		Use:   "mount URI DIR",
		Short: "Serve a cluster folder through FUSE until interrupted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := c.app.Start(ctx); err != nil {
				return err
			}
			opts, err := c.options(ctx)
			if err != nil {
				return err
			}
			mm, err := c.app.Mount(ctx, args[0], opts, args[1], readOnly)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mounted %s at %s\n", args[0], mm.MountPoint())

			mm.Wait()
			stats := mm.GetStats()
			fmt.Fprintf(cmd.OutOrStdout(), "unmounted %s (%d reads, %d writes, %d errors)\n",
				mm.MountPoint(), stats.Reads, stats.Writes, stats.Errors)
			return nil
		},
	}
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "mount read-only")
	return cmd
}
