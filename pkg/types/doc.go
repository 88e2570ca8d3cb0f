/*
Package types provides the shared data structures and contracts for namedfs.

# Cluster identities

NamedCluster describes one remote filesystem endpoint. A record is either
registered (persisted in the cluster registry, keyed by Name) or ad-hoc
(materialized from the registry template for an unseen host, keyed by
host:port). Records are always passed by value; use Clone before mutating
nested fields so the registry's canonical copy is never aliased.

	nc := types.NamedCluster{Name: "prod", Host: "nn1.example.com", Port: 8020, Registered: true}
	work := nc.Clone()
	work.Credentials = &types.Credentials{Username: "etl"}

# Capabilities

CapabilitySet is the static contract a provider declares. It never varies per
cluster, so every backend family must fulfil each capability in
AllCapabilities.

# Backends

FileSystem is implemented by every backend family (hdfs, s3, local). Errors
for missing or existing paths wrap fs.ErrNotExist and fs.ErrExist so the vfs
layer can map them onto namedfs error codes.
*/
package types
