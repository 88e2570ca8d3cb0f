/*
Package config provides configuration management for namedfs.

Configuration is layered: compiled-in defaults from NewDefault, then a YAML
file, then NAMEDFS_* environment variables, then command-line flags applied by
the caller.

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/namedfs/config.yaml"); err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

# Sections

global: log level, format (text or json) and optional log file.

provider: the schemes claimed by the virtual filesystem provider, each with a
variant (standard or native) and a default port, plus the backend family used
when neither the request nor the cluster names one.

registry: the cluster registry store (memory, file, postgres, redis or
zookeeper), its read cache TTL, the optional secret used to seal credentials
at rest, and the template cluster that seeds ad-hoc identities.

resolver: whether a registry discovery failure degrades to a registry miss
instead of failing the open request.

connection: whether backend connections are pooled per cluster, and the
connect timeout.

storage: defaults for the local, hdfs and s3 backend families.

monitoring: the Prometheus endpoint and the connectivity check timeout.

# Environment Variables

	NAMEDFS_LOG_LEVEL, NAMEDFS_LOG_FORMAT, NAMEDFS_LOG_FILE
	NAMEDFS_DEFAULT_SHIM
	NAMEDFS_REGISTRY_DRIVER, NAMEDFS_REGISTRY_PATH, NAMEDFS_REGISTRY_DSN
	NAMEDFS_REDIS_ADDR, NAMEDFS_REDIS_PASSWORD, NAMEDFS_REDIS_DB
	NAMEDFS_ZK_SERVERS (comma separated)
	NAMEDFS_REGISTRY_SECRET_KEY, NAMEDFS_REGISTRY_CACHE_TTL
	NAMEDFS_DEGRADE_ON_DISCOVERY_FAILURE, NAMEDFS_CONNECTION_CACHE, NAMEDFS_CONNECT_TIMEOUT
	NAMEDFS_LOCAL_ROOT, NAMEDFS_HDFS_USER
	NAMEDFS_S3_ENDPOINT, NAMEDFS_S3_REGION, NAMEDFS_S3_BUCKET
	NAMEDFS_METRICS_ENABLED, NAMEDFS_METRICS_PORT
*/
package config
