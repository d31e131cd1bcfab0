package usecase

import (
	"context"
	"time"

	"github.com/opencurate/releasehub/internal/domain"
)

// PagedResult carries one page of data plus the total matching count.
type PagedResult[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

// ReleaseRepository defines storage operations for releases. Mutate must
// serialize concurrent mutations on the same release (row-level locking), so
// state checks inside fn cannot race.
type ReleaseRepository interface {
	NextKey(ctx context.Context, prefix string) (string, error)
	Create(ctx context.Context, r domain.Release, creator domain.Participant) error
	Get(ctx context.Context, releaseKey string) (*domain.Release, error)
	GetAllForUser(ctx context.Context, subjectID string, limit, offset int) ([]domain.ReleaseSummary, int, error)
	GetRole(ctx context.Context, subjectID, releaseKey string) (domain.Role, error)
	Mutate(ctx context.Context, releaseKey string, fn func(r *domain.Release) error) error
	MissingDatasets(ctx context.Context, uris []string) ([]string, error)
	ListParticipants(ctx context.Context, releaseKey string) ([]domain.Participant, error)
	UpsertParticipant(ctx context.Context, releaseKey string, p domain.Participant) error
	RemoveParticipant(ctx context.Context, releaseKey, email string) error
}

// SelectionRepository defines storage operations for the selection tree.
// GetCaseTrees returns complete case subtrees (every patient and specimen of
// each case) so that derived ancestor status never depends on paging; search
// and paging both happen over the assembled trees upstream.
type SelectionRepository interface {
	GetCaseTrees(ctx context.Context, datasetURIs []string) ([]domain.Case, error)
	GetSelectedSpecimens(ctx context.Context, releaseKey string) (map[string]bool, error)
	ResolveSpecimenIDs(ctx context.Context, datasetURIs []string, specimenIDs []string) (map[string]bool, error)
	AddSelected(ctx context.Context, releaseKey string, specimenIDs []string) error
	RemoveSelected(ctx context.Context, releaseKey string, specimenIDs []string) error
	GetNodeConsent(ctx context.Context, datasetURIs []string, nodeID string) (string, error)
}

// ArtifactRecord is the flattened join of one non-deleted file reachable
// from a selected specimen.
type ArtifactRecord struct {
	CaseID     string
	PatientID  string
	SpecimenID string
	ArtifactID string

	Type domain.ArtifactType
	URL  string
	Size int64
	MD5  string

	// phenotype codes recorded against the owning patient, used by the
	// htsget restriction filter
	PatientPhenotypes []string
}

// ManifestRepository defines the storage queries behind manifest building.
type ManifestRepository interface {
	GetSelectedArtifacts(ctx context.Context, releaseKey string) ([]ArtifactRecord, error)
}

// DatasetRepository defines storage operations for dataset summaries.
type DatasetRepository interface {
	GetAll(ctx context.Context, limit, offset int) ([]domain.Dataset, int, error)
	Get(ctx context.Context, uri string) (*domain.Dataset, error)
}

// AuditRepository defines the audit persistence contract: events are
// inserted with a placeholder failure outcome and updated in place when the
// tracked operation completes.
type AuditRepository interface {
	Start(ctx context.Context, ev domain.AuditEvent) (int64, error)
	Complete(ctx context.Context, id int64, outcome domain.AuditOutcome, details string, duration *time.Duration) error
	ListForRelease(ctx context.Context, releaseKey string, limit, offset int) ([]domain.AuditEvent, int, error)
}

// AuditLease grants short-lived exclusive leases, used to avoid opening a
// second timed audit event for the same key while one is in flight.
type AuditLease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// ObjectInfo is the subset of object metadata sharing needs.
type ObjectInfo struct {
	Size         int64
	LastModified time.Time
	ETag         string
}

// ObjectStore is the cloud object storage collaborator. Head returns
// domain.ErrNotFound when the object does not exist.
type ObjectStore interface {
	Head(ctx context.Context, bucket, key string) (ObjectInfo, error)
	Put(ctx context.Context, bucket, key string, body []byte) error
}

// Presigner produces bounded-expiry signed URLs for one storage protocol.
type Presigner interface {
	Protocol() domain.Protocol
	Enabled() bool
	Presign(ctx context.Context, releaseKey, bucket, key string, expiry time.Duration) (string, error)
}

// Signer is the reduced signing surface the manifest renderer needs. It is
// implemented by SharingUsecase.
type Signer interface {
	SignObject(ctx context.Context, releaseKey string, protocol domain.Protocol, bucket, key string) (string, error)
}

// ManifestCache caches rendered manifest blobs with a bounded TTL. It is
// never consulted for authorization decisions.
type ManifestCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte) error
}
