package config

import (
	"os"

	"github.com/go-yaml/yaml"
)

type Config struct {
	Server  Server  `yaml:"server"`
	Release Release `yaml:"release"`
	Sharers Sharers `yaml:"sharers"`
}

type Server struct {
	Listen        string `yaml:"listen"`
	PostgresDsn   string `yaml:"postgresDsn"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisDB       int    `yaml:"redisDB"`
	MemcachedAddr string `yaml:"memcachedAddr"`
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint"`

	// bearer tokens from the identity provider are verified against these
	JwtAudience string `yaml:"jwtAudience"`
	JwtSecret   string `yaml:"jwtSecret"`
}

type Release struct {
	KeyPrefix            string `yaml:"keyPrefix"`            // e.g. "R" yielding R001, R002, ...
	ManifestCacheSeconds int    `yaml:"manifestCacheSeconds"` // TTL for rendered manifest blobs
}

// Sharers configures the deployment-level gates of each sharing mechanism.
// A mechanism only operates when enabled here AND in the release's data
// sharing configuration.
type Sharers struct {
	ObjectSigning ObjectSigningSharer `yaml:"objectSigning"`
	Htsget        HtsgetSharer        `yaml:"htsget"`
	CopyOut       CopyOutSharer       `yaml:"copyOut"`
}

type ObjectSigningSharer struct {
	Enabled     bool   `yaml:"enabled"`
	ExpiryHours int    `yaml:"expiryHours"`
	AwsRegion   string `yaml:"awsRegion"`

	// Cloudflare R2 is S3-compatible behind a custom endpoint
	R2Endpoint        string `yaml:"r2Endpoint"`
	R2AccessKeyID     string `yaml:"r2AccessKeyId"`
	R2SecretAccessKey string `yaml:"r2SecretAccessKey"`

	GcpEnabled bool `yaml:"gcpEnabled"`
}

type HtsgetSharer struct {
	Enabled         bool   `yaml:"enabled"`
	URL             string `yaml:"url"`
	Bucket          string `yaml:"bucket"`
	ManifestsFolder string `yaml:"manifestsFolder"`
	MaxAgeSeconds   int64  `yaml:"maxAgeInSeconds"`
}

type CopyOutSharer struct {
	Enabled bool `yaml:"enabled"`
}

func Load(path string) (Config, error) {

	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, err
	}

	if config.Release.KeyPrefix == "" {
		config.Release.KeyPrefix = "R"
	}
	if config.Release.ManifestCacheSeconds == 0 {
		config.Release.ManifestCacheSeconds = 600
	}
	if config.Sharers.Htsget.ManifestsFolder == "" {
		config.Sharers.Htsget.ManifestsFolder = "htsget-manifests"
	}

	return config, nil
}
