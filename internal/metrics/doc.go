/*
Package metrics exposes namedfs activity to Prometheus.

The Collector owns a private registry, so several collectors can coexist in
tests, and implements types.MetricsRecorder. The provider, resolver,
connection factory and locator all accept one:

	namedfs_opens_total{scheme,status}
	namedfs_resolutions_total{outcome}
	namedfs_connects_total{family,status}
	namedfs_connect_duration_seconds{family}
	namedfs_connections_active
	namedfs_discoveries_total{status}

Handler serves the metrics path together with /health and
/debug/connections (a JSON snapshot of the connection pool) on a chi
router:

	collector, err := metrics.NewCollector(cfg.Monitoring.Metrics, logger)
	if err != nil {
		return err
	}
	collector.SetStatsSource(func() any { return factory.Stats() })
	collector.Start(ctx)
*/
package metrics
