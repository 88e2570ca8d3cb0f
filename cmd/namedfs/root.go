package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/namedfs/namedfs/internal/adapter"
	"github.com/namedfs/namedfs/internal/config"
	"github.com/namedfs/namedfs/internal/vfs"
	"github.com/namedfs/namedfs/pkg/types"
	"github.com/namedfs/namedfs/pkg/utils"
)

// cli holds the state shared by every subcommand.
type cli struct {
	configPath string
	envFile    string
	logLevel   string

	user        string
	clusterName string
	shim        string

	cfg       *config.Configuration
	app       *adapter.Adapter
	logCloser io.Closer
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "namedfs",
		Short:         "Named cluster registry and virtual filesystem client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.configPath, "config", "c", "", "configuration file (YAML)")
	pf.StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before NAMEDFS_* variables are read")
	pf.StringVar(&c.logLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	pf.StringVar(&c.user, "user", "", "user to act as on the cluster")
	pf.StringVar(&c.clusterName, "cluster", "", "pin resolution to this registered cluster")
	pf.StringVar(&c.shim, "shim", "", "backend family override (hdfs, s3, local)")

	root.AddCommand(
		newClusterCmd(c),
		newLsCmd(c),
		newStatCmd(c),
		newCatCmd(c),
		newPutCmd(c),
		newMkdirCmd(c),
		newRmCmd(c),
		newMvCmd(c),
		newTouchCmd(c),
		newMountCmd(c),
		newCapabilitiesCmd(c),
	)
	return root
}

// setup loads the environment and configuration and builds the adapter.
func (c *cli) setup(cmd *cobra.Command) error {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", c.envFile, err)
		}
	}

	cfg := config.NewDefault()
	if c.configPath != "" {
		if err := cfg.LoadFromFile(c.configPath); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Global.LogLevel = strings.ToUpper(c.logLevel)
	}

	logger, closer, err := utils.NewLogger(cfg.Global.LogLevel, cfg.Global.LogFormat, cfg.Global.LogFile)
	if err != nil {
		return err
	}
	c.logCloser = closer

	app, err := adapter.New(cfg, logger)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.app = app
	return nil
}

func (c *cli) close() {
	if c.app != nil {
		_ = c.app.Stop(context.Background())
	}
	if c.logCloser != nil {
		_ = c.logCloser.Close()
	}
}

// options turns the --cluster, --shim and --user flags into provider options.
func (c *cli) options(ctx context.Context) (*vfs.Options, error) {
	builder := c.app.Provider.ConfigBuilder()
	opts := vfs.NewOptions()
	if c.clusterName != "" {
		pinned, err := builder.ForNamedCluster(ctx, c.clusterName)
		if err != nil {
			return nil, err
		}
		opts = pinned
	}
	if c.shim != "" {
		builder.SetShim(opts, c.shim)
	}
	if c.user != "" {
		builder.SetUser(opts, c.user)
	}
	return opts, nil
}

// open resolves uri into a filesystem and the path it names.
func (c *cli) open(ctx context.Context, uri string) (*vfs.FileSystem, string, error) {
	opts, err := c.options(ctx)
	if err != nil {
		return nil, "", err
	}
	return c.app.Open(ctx, uri, opts)
}

// schemeFor returns the first configured scheme of the given variant.
func (c *cli) schemeFor(v types.SchemeVariant) (string, error) {
	for _, s := range c.cfg.Provider.Schemes {
		if s.Variant == v {
			return strings.ToLower(s.Name), nil
		}
	}
	return "", fmt.Errorf("no %s scheme configured", v)
}
