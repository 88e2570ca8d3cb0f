package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/namedfs/namedfs/pkg/errors"
	"github.com/namedfs/namedfs/pkg/types"
	"github.com/namedfs/namedfs/pkg/utils"
)

func newLsCmd(c *cli) *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "ls URI",
		Short: "List the children of a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			fsys, p, err := c.open(ctx, args[0])
			if err != nil {
				return err
			}
			defer fsys.Release()

			entries, err := fsys.List(ctx, p)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !long {
				for _, e := range entries {
					if e.IsDir {
						fmt.Fprintln(out, e.Name+"/")
					} else {
						fmt.Fprintln(out, e.Name)
					}
				}
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, e := range entries {
				kind := "-"
				if e.IsDir {
					kind = "d"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", kind, utils.FormatBytes(e.Size),
					e.ModTime.Format(time.RFC3339), e.Name)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show type, size and modification time")
	return cmd
}

func newStatCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stat URI",
		Short: "Describe a file or folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			fsys, p, err := c.open(ctx, args[0])
			if err != nil {
				return err
			}
			defer fsys.Release()

			kind, err := fsys.Type(ctx, p)
			if err != nil {
				return err
			}
			uri, err := fsys.URI(p)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "uri:      %s\n", uri)
			fmt.Fprintf(out, "type:     %s\n", kind)
			if kind == types.FileTypeImaginary {
				return nil
			}
			info, err := fsys.Stat(ctx, p)
			if err != nil {
				return err
			}
			cluster := fsys.Cluster()
			fmt.Fprintf(out, "size:     %d\n", info.Size)
			fmt.Fprintf(out, "modified: %s\n", info.ModTime.UTC().Format(time.RFC3339Nano))
			fmt.Fprintf(out, "cluster:  %s\n", cluster.Key())
			return nil
		},
	}
}

func newCatCmd(c *cli) *cobra.Command {
	var offset int64
	cmd := &cobra.Command{
		Use:   "cat URI",
		Short: "Write a file's content to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			fsys, p, err := c.open(ctx, args[0])
			if err != nil {
				return err
			}
			defer fsys.Release()

			if offset > 0 {
				r, err := fsys.OpenRandomAccess(ctx, p)
				if err != nil {
					return err
				}
				defer r.Close()
				if _, err := r.Seek(offset, io.SeekStart); err != nil {
					return err
				}
				_, err = io.Copy(cmd.OutOrStdout(), r)
				return err
			}

			r, err := fsys.Open(ctx, p)
			if err != nil {
				return err
			}
			defer r.Close()
			_, err = io.Copy(cmd.OutOrStdout(), r)
			return err
		},
	}
	cmd.Flags().Int64Var(&offset, "offset", 0, "start reading at this byte offset")
	return cmd
}

func newPutCmd(c *cli) *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "put LOCAL|- URI",
		Short: "Upload a local file, or stdin, to URI",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var src io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}

			fsys, p, err := c.open(ctx, args[1])
			if err != nil {
				return err
			}
			defer fsys.Release()

			w, err := fsys.Create(ctx, p, overwrite)
			if err != nil {
				return err
			}
			n, err := io.Copy(w, src)
			if err != nil {
				_ = w.Close()
				return err
			}
			if err := w.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s to %s\n", utils.FormatBytes(n), p)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&overwrite, "overwrite", "f", false, "replace an existing file")
	return cmd
}

func newMkdirCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir URI",
		Short: "Create a folder and its parents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			fsys, p, err := c.open(ctx, args[0])
			if err != nil {
				return err
			}
			defer fsys.Release()
			return fsys.CreateFolder(ctx, p)
		},
	}
}

func newRmCmd(c *cli) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rm URI",
		Short: "Delete a file or folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			fsys, p, err := c.open(ctx, args[0])
			if err != nil {
				return err
			}
			defer fsys.Release()

			kind, err := fsys.Type(ctx, p)
			if err != nil {
				return err
			}
			switch kind {
			case types.FileTypeImaginary:
				return errors.Newf(errors.ErrCodeFileNotFound, "%s does not exist", p).WithComponent("cli")
			case types.FileTypeFolder:
				if !recursive {
					children, err := fsys.List(ctx, p)
					if err != nil {
						return err
					}
					if len(children) > 0 {
						return fmt.Errorf("%s is not empty (use -r)", p)
					}
				}
			}
			return fsys.Delete(ctx, p)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "delete folders with their content")
	return cmd
}

func newMvCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mv SRC_URI DST",
		Short: "Rename a file or folder on one cluster",
		Long:  "Rename SRC_URI to DST. DST is an absolute path or a URI on the same cluster.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			fsys, from, err := c.open(ctx, args[0])
			if err != nil {
				return err
			}
			defer fsys.Release()

			to := args[1]
			if strings.Contains(to, "://") {
				dst, p, err := c.open(ctx, to)
				if err != nil {
					return err
				}
				sameRoot := dst.Root() == fsys.Root()
				_ = dst.Release()
				if !sameRoot {
					return fmt.Errorf("cannot move between %s and %s", fsys.Root().Redacted(), dst.Root().Redacted())
				}
				to = p
			}
			return fsys.Rename(ctx, from, to)
		},
	}
}

func newTouchCmd(c *cli) *cobra.Command {
	var stamp string
	cmd := &cobra.Command{
		Use:   "touch URI",
		Short: "Create an empty file or set its modification time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mtime := time.Now()
			if stamp != "" {
				t, err := time.Parse(time.RFC3339, stamp)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				mtime = t
			}

			fsys, p, err := c.open(ctx, args[0])
			if err != nil {
				return err
			}
			defer fsys.Release()

			kind, err := fsys.Type(ctx, p)
			if err != nil {
				return err
			}
			if kind == types.FileTypeImaginary {
				w, err := fsys.Create(ctx, p, false)
				if err != nil {
					return err
				}
				if err := w.Close(); err != nil {
					return err
				}
			}
			return fsys.SetLastModified(ctx, p, mtime)
		},
	}
	cmd.Flags().StringVarP(&stamp, "date", "d", "", "modification time (RFC 3339) instead of now")
	return cmd
}

func newCapabilitiesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities [SCHEME]",
		Short: "Show the capabilities declared for each scheme",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schemes := c.app.Manager.Schemes()
			if len(args) == 1 {
				schemes = []string{strings.ToLower(args[0])}
			}
			sort.Strings(schemes)
			out := cmd.OutOrStdout()
			for _, s := range schemes {
				caps, err := c.app.Manager.Capabilities(s)
				if err != nil {
					return err
				}
				names := make([]string, 0, caps.Len())
				for _, cp := range caps.List() {
					names = append(names, string(cp))
				}
				fmt.Fprintf(out, "%s: %s\n", s, strings.Join(names, ", "))
			}
			return nil
		},
	}
}
