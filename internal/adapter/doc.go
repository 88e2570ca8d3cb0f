/*
Package adapter is the composition root of namedfs.

New builds every component from one config.Configuration and connects them
in dependency order:

	metrics.Collector        prometheus recorder shared by every layer
	registry.Service         cluster template and ad-hoc identities
	locator.Locator          registry store handle, discovered from config
	resolver.Resolver        host:port or cluster name to NamedCluster
	connection.Factory       pooled backend connections (hdfs, s3, local)
	vfs.Manager              scheme dispatch
	provider.Provider        registered with the manager for the configured schemes
	health.Checker           TCP connectivity checks for cluster test

Callers open virtual paths through Open (or Manager directly), manage
clusters through Registry with the store from Store, and serve a path over
FUSE with Mount.

# Lifecycle

	a, err := adapter.New(cfg, logger)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop(context.Background())

	fsys, p, err := a.Open(ctx, "hdfs://nn1.example.com/data/in.csv", nil)
	if err != nil {
		return err
	}
	defer fsys.Release()

Stop closes the manager, which closes the provider and with it every pooled
connection, then the registry store and finally the metrics server.
*/
package adapter
