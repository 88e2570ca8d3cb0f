/*
Package s3 implements the s3 backend family: a cluster maps onto one bucket
of an S3-compatible object store and paths map onto object keys.

Folders are implied by key prefixes. Mkdir writes an empty "<key>/" marker
so empty folders survive. Modification times set through SetModTime are kept
in the "mtime" object metadata entry and win over the store's LastModified.

Connection settings come from the storage.s3 configuration section, overridden
per cluster by these properties:

	endpoint          object store URL (default: http://<host>:<port>)
	bucket            bucket holding the cluster's tree
	region            signing region
	force_path_style  path-style addressing
	use_cargoship     upload through the CargoShip transporter
	storage_class     STANDARD, STANDARD_IA, ONEZONE_IA, INTELLIGENT_TIERING,
	                  GLACIER or DEEP_ARCHIVE

Cluster credentials, when present, are used as the access key pair.

Random access reads issue ranged GETs; writes are buffered and uploaded on
Close, through CargoShip when enabled with a plain PutObject as fallback.
*/
package s3
