package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/opencurate/releasehub/internal/config"
	"github.com/opencurate/releasehub/internal/domain"
)

var sharingTracer = otel.Tracer("sharing")

// maxSigningExpiry bounds every presigned URL regardless of release
// configuration.
const maxSigningExpiry = 7 * 24 * time.Hour

// systemUser attributes audit events for operations not initiated by a
// participant, such as scheduled htsget publication.
var systemUser = domain.AuthenticatedUser{SubjectID: "system", DisplayName: "System"}

// SharingUsecase dispatches sharing operations to protocol adapters and
// owns the htsget manifest publication cache.
type SharingUsecase struct {
	releases  ReleaseRepository
	manifests *ManifestUsecase
	store     ObjectStore
	audit     *AuditService

	presigners map[domain.Protocol]Presigner

	signing config.ObjectSigningSharer
	htsget  config.HtsgetSharer

	now func() time.Time
}

func NewSharingUsecase(
	releases ReleaseRepository,
	manifests *ManifestUsecase,
	store ObjectStore,
	audit *AuditService,
	signing config.ObjectSigningSharer,
	htsget config.HtsgetSharer,
	presigners ...Presigner,
) (*SharingUsecase, error) {
	registry := make(map[domain.Protocol]Presigner, len(presigners))
	for _, p := range presigners {
		if _, exists := registry[p.Protocol()]; exists {
			return nil, fmt.Errorf("duplicate presigner for protocol %s", p.Protocol())
		}
		registry[p.Protocol()] = p
	}
	return &SharingUsecase{
		releases:   releases,
		manifests:  manifests,
		store:      store,
		audit:      audit,
		presigners: registry,
		signing:    signing,
		htsget:     htsget,
		now:        time.Now,
	}, nil
}

// signingExpiry resolves the bounded expiry window for a release.
func (uc *SharingUsecase) signingExpiry(release *domain.Release) time.Duration {
	hours := release.DataSharing.ObjectSigningExpiryHours
	if hours <= 0 {
		hours = uc.signing.ExpiryHours
	}
	expiry := time.Duration(hours) * time.Hour
	if expiry <= 0 || expiry > maxSigningExpiry {
		expiry = maxSigningExpiry
	}
	return expiry
}

// SignObject produces a presigned URL for one object of an activated
// release. It enforces activation, the per-release and deployment signing
// gates, and the release's location allow flag, then dispatches on the
// protocol registry. No adapter for the protocol is an explicit error,
// never a silent fall-through.
func (uc *SharingUsecase) SignObject(ctx context.Context, releaseKey string, protocol domain.Protocol, bucket, key string) (string, error) {
	ctx, span := sharingTracer.Start(ctx, "Sharing.Usecase.SignObject")
	defer span.End()

	release, err := uc.releases.Get(ctx, releaseKey)
	if err != nil {
		return "", err
	}
	if !release.IsActivated() || !release.DataSharing.ObjectSigningEnabled {
		return "", domain.ErrNotAuthorised
	}
	if !uc.signing.Enabled {
		return "", domain.NotEnabledError{Mechanism: "object signing"}
	}
	if !release.AllowsProtocol(protocol) {
		return "", domain.ErrNotAuthorised
	}

	p, ok := uc.presigners[protocol]
	if !ok {
		return "", domain.UnhandledProtocolError{Protocol: string(protocol)}
	}
	if !p.Enabled() {
		return "", domain.NotEnabledError{Mechanism: string(protocol) + " object signing"}
	}

	return p.Presign(ctx, releaseKey, bucket, key, uc.signingExpiry(release))
}

// Presign is the participant-facing signing operation, audit-bracketed.
func (uc *SharingUsecase) Presign(ctx context.Context, user domain.AuthenticatedUser, releaseKey string, protocol domain.Protocol, bucket, key string) (string, error) {
	ctx, span := sharingTracer.Start(ctx, "Sharing.Usecase.Presign")
	defer span.End()

	if _, err := uc.releases.GetRole(ctx, user.SubjectID, releaseKey); err != nil {
		return "", err
	}

	return AuditPattern(ctx, uc.audit, user, releaseKey, domain.AuditExecute, "presign object "+bucket+"/"+key, func(ctx context.Context) (string, error) {
		return uc.SignObject(ctx, releaseKey, protocol, bucket, key)
	})
}

// PublishHtsgetManifest publishes the htsget-restricted manifest of an
// activated release to object storage under a release-scoped key. A copy
// younger than the configured max age is reused and only its remaining
// freshness is returned; otherwise the manifest is rebuilt and republished.
// Correctness depends only on the max age, never on an invalidation signal,
// and the published copy is never consulted for authorization.
//
// Publication is system-initiated and repeatable, so its audit trail is
// deduplicated with a lease: a burst of callers within one freshness window
// produces a single audit event.
func (uc *SharingUsecase) PublishHtsgetManifest(ctx context.Context, releaseKey string) (domain.HtsgetPublication, error) {
	ctx, span := sharingTracer.Start(ctx, "Sharing.Usecase.PublishHtsgetManifest")
	defer span.End()

	ttl := time.Duration(uc.htsget.MaxAgeSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Minute
	}
	id, start, opened, err := uc.audit.StartTimed(ctx, "publish-htsget:"+releaseKey, ttl, systemUser, releaseKey, domain.AuditExecute, "publish htsget manifest")
	if err != nil {
		return domain.HtsgetPublication{}, err
	}

	pub, err := uc.publishHtsgetManifest(ctx, releaseKey)

	if opened {
		outcome := domain.AuditSuccess
		var details any = pub
		if err != nil {
			span.RecordError(err)
			outcome = domain.AuditSeriousFailure
			details = map[string]any{"errorMessage": err.Error()}
		}
		if cerr := uc.audit.Complete(ctx, id, systemUser, releaseKey, domain.AuditExecute, "publish htsget manifest", start, outcome, details); cerr != nil {
			slog.ErrorContext(
				ctx, "Failed to complete audit event",
				slog.Int64("auditEventId", id),
				slog.String("error", cerr.Error()),
				slog.String("module", "sharing"),
			)
		}
	}
	return pub, err
}

func (uc *SharingUsecase) publishHtsgetManifest(ctx context.Context, releaseKey string) (domain.HtsgetPublication, error) {
	release, err := uc.releases.Get(ctx, releaseKey)
	if err != nil {
		return domain.HtsgetPublication{}, err
	}
	if !release.IsActivated() || !release.DataSharing.HtsgetEnabled {
		return domain.HtsgetPublication{}, domain.ErrNotAuthorised
	}
	if !uc.htsget.Enabled || uc.htsget.Bucket == "" {
		return domain.HtsgetPublication{}, domain.NotEnabledError{Mechanism: "htsget"}
	}

	manifestKey := uc.htsget.ManifestsFolder + "/" + releaseKey

	var remaining int64
	head, err := uc.store.Head(ctx, uc.htsget.Bucket, manifestKey)
	switch {
	case err == nil:
		expiresAt := head.LastModified.Add(time.Duration(uc.htsget.MaxAgeSeconds) * time.Second)
		remaining = int64(expiresAt.Sub(uc.now()).Seconds())
	case errors.Is(err, domain.ErrNotFound):
		slog.DebugContext(
			ctx, "No published htsget manifest yet",
			slog.String("releaseKey", releaseKey),
			slog.String("module", "sharing"),
		)
	default:
		return domain.HtsgetPublication{}, err
	}

	if remaining <= 0 || remaining > uc.htsget.MaxAgeSeconds {
		manifest, err := uc.manifests.BuildManifest(ctx, releaseKey)
		if err != nil {
			return domain.HtsgetPublication{}, err
		}
		if manifest == nil {
			return domain.HtsgetPublication{}, domain.NotFoundError{Resource: "manifest"}
		}

		restricted, err := uc.manifests.RestrictedSpecimens(ctx, releaseKey, release.HtsgetRestrictions)
		if err != nil {
			return domain.HtsgetPublication{}, err
		}
		htsget, err := TransformHtsget(manifest, release.HtsgetRestrictions, restricted)
		if err != nil {
			return domain.HtsgetPublication{}, err
		}

		body, err := json.Marshal(htsget)
		if err != nil {
			return domain.HtsgetPublication{}, err
		}
		if err := uc.store.Put(ctx, uc.htsget.Bucket, manifestKey, body); err != nil {
			return domain.HtsgetPublication{}, err
		}
		remaining = uc.htsget.MaxAgeSeconds
	}

	return domain.HtsgetPublication{
		Bucket: uc.htsget.Bucket,
		Key:    manifestKey,
		MaxAge: remaining,
	}, nil
}
