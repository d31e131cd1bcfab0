package domain

import "strings"

// Protocol identifies the storage service a file lives on. Presigner
// adapters are registered against these values and dispatched exhaustively.
type Protocol string

const (
	ProtocolS3 Protocol = "s3"
	ProtocolGS Protocol = "gs"
	ProtocolR2 Protocol = "r2"
)

// ParseObjectURL splits a storage-protocol-prefixed URL such as
// s3://bucket/key/path into its protocol, bucket and key parts.
func ParseObjectURL(url string) (Protocol, string, string, error) {
	scheme, rest, found := strings.Cut(url, "://")
	if !found {
		return "", "", "", ValidationError{Message: "object url missing protocol prefix: " + url}
	}
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", "", ValidationError{Message: "object url missing bucket or key: " + url}
	}
	switch Protocol(scheme) {
	case ProtocolS3, ProtocolGS, ProtocolR2:
		return Protocol(scheme), bucket, key, nil
	}
	return "", "", "", ValidationError{Message: "object url has unknown protocol: " + url}
}

// ManifestObject is one shareable stored object of a manifest, flattened
// with the ids of the hierarchy it came from.
type ManifestObject struct {
	CaseID     string `json:"caseId"`
	PatientID  string `json:"patientId"`
	SpecimenID string `json:"specimenId"`
	ArtifactID string `json:"artifactId"`

	ObjectType string `json:"objectType"`
	ObjectSize int64  `json:"objectSize"`

	ObjectStoreProtocol string `json:"objectStoreProtocol"`
	ObjectStoreURL      string `json:"objectStoreUrl"`
	ObjectStoreBucket   string `json:"objectStoreBucket"`
	ObjectStoreKey      string `json:"objectStoreKey"`

	// present only when signed access was requested
	ObjectStoreSigned string `json:"objectStoreSigned,omitempty"`

	// present only when a checksum was recorded
	MD5 string `json:"md5,omitempty"`
}

// Manifest is the authoritative, ephemeral list of objects permitted to be
// shared for an activated release. It is computed on demand and cached with
// a bounded expiry, never persisted as authoritative state.
type Manifest struct {
	ID      string           `json:"id"`
	Objects []ManifestObject `json:"objects"`
}

// HtsgetManifestRead is a reads entry of the htsget-restricted manifest.
type HtsgetManifestRead struct {
	ID         string   `json:"id"`
	Format     string   `json:"format"` // BAM or CRAM
	URL        string   `json:"url"`
	Restricted []string `json:"restrictions,omitempty"`
}

// HtsgetManifestVariant is a variants entry of the htsget-restricted manifest.
type HtsgetManifestVariant struct {
	ID         string   `json:"id"`
	Format     string   `json:"format"` // VCF
	URL        string   `json:"url"`
	Restricted []string `json:"restrictions,omitempty"`
}

// HtsgetManifest is the manifest subset relevant to htsget's block-level
// retrieval model.
type HtsgetManifest struct {
	ID       string                  `json:"id"`
	Reads    []HtsgetManifestRead    `json:"reads"`
	Variants []HtsgetManifestVariant `json:"variants"`
}

// HtsgetPublication describes a published htsget manifest location and the
// remaining freshness window in seconds.
type HtsgetPublication struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	MaxAge int64  `json:"maxAge"`
}
