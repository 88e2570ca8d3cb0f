package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/namedfs/namedfs/internal/registry"
	"github.com/namedfs/namedfs/pkg/errors"
	"github.com/namedfs/namedfs/pkg/types"
)

// clusterFlags are the editable fields of a named cluster.
type clusterFlags struct {
	host             string
	port             int
	variant          string
	shim             string
	user             string
	secret           string
	properties       map[string]string
	removeProperties []string
}

func (f *clusterFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.host, "host", "", "cluster host")
	fl.IntVar(&f.port, "port", 0, "cluster port")
	fl.StringVar(&f.variant, "variant", "", "scheme variant (standard, native)")
	fl.StringVar(&f.shim, "shim-id", "", "backend family (hdfs, s3, local)")
	fl.StringVar(&f.user, "username", "", "user the cluster connection acts as")
	fl.StringVar(&f.secret, "secret", "", "secret for the user")
	fl.StringToStringVarP(&f.properties, "property", "p", nil, "cluster property key=value (repeatable)")
	fl.StringSliceVar(&f.removeProperties, "remove-property", nil, "property keys to remove")
}

// apply copies the flags the user set onto nc.
func (f *clusterFlags) apply(cmd *cobra.Command, nc *types.NamedCluster) error {
	changed := cmd.Flags().Changed
	if changed("host") {
		nc.Host = f.host
	}
	if changed("port") {
		nc.Port = f.port
	}
	if changed("variant") {
		v, err := types.ParseSchemeVariant(f.variant)
		if err != nil {
			return err
		}
		nc.Variant = v
	}
	if changed("shim-id") {
		nc.ShimIdentifier = f.shim
	}
	if changed("username") || changed("secret") {
		if nc.Credentials == nil {
			nc.Credentials = &types.Credentials{}
		}
		if changed("username") {
			nc.Credentials.Username = f.user
		}
		if changed("secret") {
			nc.Credentials.Secret = f.secret
		}
		if nc.Credentials.Username == "" && nc.Credentials.Secret == "" {
			nc.Credentials = nil
		}
	}
	if len(f.properties) > 0 && nc.Properties == nil {
		nc.Properties = make(map[string]string, len(f.properties))
	}
	for k, v := range f.properties {
		nc.Properties[k] = v
	}
	for _, k := range f.removeProperties {
		delete(nc.Properties, k)
	}
	return nil
}

func newClusterCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Manage named clusters",
	}
	cmd.AddCommand(
		newClusterListCmd(c),
		newClusterShowCmd(c),
		newClusterCreateCmd(c),
		newClusterEditCmd(c),
		newClusterDeleteCmd(c),
		newClusterTestCmd(c),
		newClusterTemplateCmd(c),
	)
	return cmd
}

func (c *cli) store(ctx context.Context) (registry.Store, error) {
	return c.app.Store(ctx)
}

func (c *cli) find(ctx context.Context, name string) (types.NamedCluster, error) {
	store, err := c.store(ctx)
	if err != nil {
		return types.NamedCluster{}, err
	}
	nc, found, err := c.app.Registry.FindByName(ctx, store, name)
	if err != nil {
		return types.NamedCluster{}, err
	}
	if !found {
		return types.NamedCluster{}, errors.Newf(errors.ErrCodeClusterNotFound, "no cluster named %q", name).
			WithComponent("cli")
	}
	return nc, nil
}

func newClusterListCmd(c *cli) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered clusters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := c.store(ctx)
			if err != nil {
				return err
			}
			clusters, err := c.app.Registry.List(ctx, store)
			if err != nil {
				return err
			}
			for i := range clusters {
				clusters[i] = masked(clusters[i])
			}
			if output != "table" {
				return render(cmd.OutOrStdout(), output, clusters)
			}
			return clusterTable(cmd.OutOrStdout(), clusters)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format (table, yaml, json)")
	return cmd
}

func newClusterShowCmd(c *cli) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show NAME",
		Short: "Show one registered cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nc, err := c.find(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), output, masked(nc))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format (yaml, json)")
	return cmd
}

func newClusterCreateCmd(c *cli) *cobra.Command {
	var flags clusterFlags
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Register a cluster, starting from the template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			nc := c.app.Registry.NewFromTemplate(args[0])
			if err := flags.apply(cmd, &nc); err != nil {
				return err
			}
			store, err := c.store(ctx)
			if err != nil {
				return err
			}
			if err := c.app.Registry.Create(ctx, store, nc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cluster %q created\n", nc.Name)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newClusterEditCmd(c *cli) *cobra.Command {
	var (
		flags  clusterFlags
		rename string
	)
	cmd := &cobra.Command{
		Use:   "edit NAME",
		Short: "Change a registered cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			nc, err := c.find(ctx, args[0])
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, &nc); err != nil {
				return err
			}
			if rename != "" {
				nc.Name = rename
			}
			store, err := c.store(ctx)
			if err != nil {
				return err
			}
			if err := c.app.Registry.Update(ctx, store, args[0], nc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cluster %q updated\n", nc.Name)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&rename, "rename", "", "new cluster name")
	return cmd
}

func newClusterDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove a registered cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := c.store(ctx)
			if err != nil {
				return err
			}
			if err := c.app.Registry.Delete(ctx, store, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cluster %q deleted\n", args[0])
			return nil
		},
	}
}

func newClusterTestCmd(c *cli) *cobra.Command {
	var connect bool
	cmd := &cobra.Command{
		Use:   "test NAME",
		Short: "Check that a registered cluster is reachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			nc, err := c.find(ctx, args[0])
			if err != nil {
				return err
			}

			res := c.app.Checker.Check(ctx, nc)
			fmt.Fprintf(out, "ping     %-5s %s\n", res.Severity, res.Message)
			failed := !res.OK()

			if connect {
				if err := c.testConnect(ctx, nc); err != nil {
					fmt.Fprintf(out, "connect  ERROR %v\n", err)
					failed = true
				} else {
					fmt.Fprintf(out, "connect  INFO  listed root of %s\n", nc.Address())
				}
			}

			if failed {
				return fmt.Errorf("cluster %q failed its connectivity test", nc.Name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&connect, "connect", true, "also open the cluster root through its backend")
	return cmd
}

// testConnect opens the root of nc pinned by name and lists it.
func (c *cli) testConnect(ctx context.Context, nc types.NamedCluster) error {
	scheme, err := c.schemeFor(nc.Variant)
	if err != nil {
		return err
	}
	opts, err := c.app.Provider.ConfigBuilder().ForNamedCluster(ctx, nc.Name)
	if err != nil {
		return err
	}
	fsys, _, err := c.app.Open(ctx, scheme+"://"+nc.Address()+"/", opts)
	if err != nil {
		return err
	}
	defer fsys.Release()
	_, err = fsys.List(ctx, "/")
	return err
}

func newClusterTemplateCmd(c *cli) *cobra.Command {
	var (
		flags clusterFlags
		save  bool
	)
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Show or change the template new and ad-hoc clusters start from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tmpl := c.app.Registry.Template()
			if err := flags.apply(cmd, &tmpl); err != nil {
				return err
			}
			if save {
				if c.configPath == "" {
					return fmt.Errorf("--save needs --config")
				}
				c.cfg.Registry.Template = tmpl
				if err := c.cfg.SaveToFile(c.configPath); err != nil {
					return err
				}
				c.app.Registry.SetTemplate(tmpl)
			}
			return render(cmd.OutOrStdout(), "yaml", masked(tmpl))
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&save, "save", false, "write the changed template to the configuration file")
	return cmd
}

func masked(nc types.NamedCluster) types.NamedCluster {
	out := nc.Clone()
	if out.Credentials != nil && out.Credentials.Secret != "" {
		out.Credentials.Secret = "xxxxx"
	}
	return out
}

func render(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func clusterTable(w io.Writer, clusters []types.NamedCluster) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tHOST\tPORT\tVARIANT\tSHIM\tPROPERTIES")
	for _, nc := range clusters {
		keys := make([]string, 0, len(nc.Properties))
		for k := range nc.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		props := make([]string, 0, len(keys))
		for _, k := range keys {
			props = append(props, k+"="+nc.Properties[k])
		}
		shim := nc.ShimIdentifier
		if shim == "" {
			shim = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			nc.Name, nc.Host, nc.Port, nc.Variant, shim, strings.Join(props, ","))
	}
	return tw.Flush()
}
