package s3

import (
	"strconv"
	"strings"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"

	"github.com/namedfs/namedfs/internal/config"
	"github.com/namedfs/namedfs/pkg/errors"
	"github.com/namedfs/namedfs/pkg/types"
)

// Storage class names accepted in the "storage_class" property.
const (
	ClassStandard     = "STANDARD"
	ClassStandardIA   = "STANDARD_IA"
	ClassOneZoneIA    = "ONEZONE_IA"
	ClassIntelligent  = "INTELLIGENT_TIERING"
	ClassGlacier      = "GLACIER"
	ClassDeepArchive  = "DEEP_ARCHIVE"
	defaultRegion     = "us-east-1"
	defaultChunkSize  = 16 * 1024 * 1024
	defaultThreshold  = 32 * 1024 * 1024
	defaultUploadJobs = 4
)

// Options is the per-cluster view of the s3 family settings. Cluster
// properties win over the configured defaults.
type Options struct {
	Region          string
	Endpoint        string
	Bucket          string
	ForcePathStyle  bool
	UseCargoship    bool
	Concurrency     int
	StorageClass    string
	AccessKeyID     string
	SecretAccessKey string
}

// OptionsFor derives the options for cluster. Without an "endpoint" property
// or configured endpoint the cluster address is used, with path-style
// addressing.
func OptionsFor(cluster types.NamedCluster, defaults config.S3Config) (Options, error) {
	opts := Options{
		Region:         cluster.Property("region", defaults.Region),
		Endpoint:       cluster.Property("endpoint", defaults.Endpoint),
		Bucket:         cluster.Property("bucket", defaults.Bucket),
		ForcePathStyle: boolProperty(cluster, "force_path_style", defaults.ForcePathStyle),
		UseCargoship:   boolProperty(cluster, "use_cargoship", defaults.UseCargoship),
		Concurrency:    defaults.Concurrency,
		StorageClass:   strings.ToUpper(cluster.Property("storage_class", ClassStandard)),
	}
	if opts.Region == "" {
		opts.Region = defaultRegion
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultUploadJobs
	}
	if opts.Endpoint == "" && cluster.Host != "" {
		opts.Endpoint = "http://" + cluster.Address()
		opts.ForcePathStyle = true
	}
	if cluster.Credentials != nil {
		opts.AccessKeyID = cluster.Credentials.Username
		opts.SecretAccessKey = cluster.Credentials.Secret
	}

	if opts.Bucket == "" {
		return Options{}, errors.NewError(errors.ErrCodeInvalidConfig, "no bucket configured for s3 cluster").
			WithComponent("s3").
			WithContext("cluster", cluster.Key())
	}
	if _, ok := storageClasses[opts.StorageClass]; !ok {
		return Options{}, errors.Newf(errors.ErrCodeInvalidConfig, "unknown storage class %q", opts.StorageClass).
			WithComponent("s3").
			WithContext("cluster", cluster.Key())
	}
	return opts, nil
}

func boolProperty(cluster types.NamedCluster, key string, def bool) bool {
	v, err := strconv.ParseBool(cluster.Property(key, ""))
	if err != nil {
		return def
	}
	return v
}

type storageClass struct {
	api   s3types.StorageClass
	cargo awsconfig.StorageClass
}

var storageClasses = map[string]storageClass{
	ClassStandard:    {s3types.StorageClassStandard, awsconfig.StorageClassStandard},
	ClassStandardIA:  {s3types.StorageClassStandardIa, awsconfig.StorageClassStandardIA},
	ClassOneZoneIA:   {s3types.StorageClassOnezoneIa, awsconfig.StorageClassOneZoneIA},
	ClassIntelligent: {s3types.StorageClassIntelligentTiering, awsconfig.StorageClassIntelligentTiering},
	ClassGlacier:     {s3types.StorageClassGlacier, awsconfig.StorageClassGlacier},
	ClassDeepArchive: {s3types.StorageClassDeepArchive, awsconfig.StorageClassDeepArchive},
}
