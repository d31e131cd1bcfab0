package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/opencurate/releasehub/internal/config"
	"github.com/opencurate/releasehub/internal/domain"
)

func sharingFixture(t *testing.T, release domain.Release, records []ArtifactRecord, signing config.ObjectSigningSharer, htsget config.HtsgetSharer, presigners ...Presigner) (*SharingUsecase, *mockReleaseRepo, *mockStore) {
	t.Helper()

	releases := newMockReleaseRepo()
	releases.add(release)
	releases.grant(memberUser.SubjectID, release.Key, domain.RoleMember)

	audit, _ := newTestAudit()
	manifests := NewManifestUsecase(releases, &mockManifestRepo{records: records}, nil)
	store := newMockStore()

	uc, err := NewSharingUsecase(releases, manifests, store, audit, signing, htsget, presigners...)
	if err != nil {
		t.Fatalf("construct sharing usecase: %v", err)
	}
	return uc, releases, store
}

func signingRelease(key string) domain.Release {
	r := activeRelease(key)
	r.AllowedGSData = true
	r.DataSharing.ObjectSigningEnabled = true
	r.DataSharing.HtsgetEnabled = true
	return r
}

func TestNewSharingUsecaseRejectsDuplicateProtocol(t *testing.T) {
	releases := newMockReleaseRepo()
	audit, _ := newTestAudit()
	manifests := NewManifestUsecase(releases, &mockManifestRepo{}, nil)

	_, err := NewSharingUsecase(releases, manifests, newMockStore(), audit,
		config.ObjectSigningSharer{}, config.HtsgetSharer{},
		&mockPresigner{protocol: domain.ProtocolS3},
		&mockPresigner{protocol: domain.ProtocolS3},
	)
	if err == nil {
		t.Fatalf("expected duplicate protocol error")
	}
}

func TestSignObject(t *testing.T) {
	s3 := &mockPresigner{protocol: domain.ProtocolS3}
	uc, _, _ := sharingFixture(t, signingRelease("R001"), nil,
		config.ObjectSigningSharer{Enabled: true, ExpiryHours: 6}, config.HtsgetSharer{}, s3)

	url, err := uc.SignObject(context.Background(), "R001", domain.ProtocolS3, "bkt", "a.bam")
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if url != "https://signed.example/bkt/a.bam" {
		t.Fatalf("wrong url %s", url)
	}
}

func TestSignObjectGates(t *testing.T) {
	ctx := context.Background()
	s3 := &mockPresigner{protocol: domain.ProtocolS3}

	inactive := signingRelease("R001")
	inactive.Activation = nil
	uc, _, _ := sharingFixture(t, inactive, nil, config.ObjectSigningSharer{Enabled: true}, config.HtsgetSharer{}, s3)
	if _, err := uc.SignObject(ctx, "R001", domain.ProtocolS3, "bkt", "k"); !errors.Is(err, domain.ErrNotAuthorised) {
		t.Fatalf("inactive release: expected not authorised, got %v", err)
	}

	flagOff := signingRelease("R001")
	flagOff.DataSharing.ObjectSigningEnabled = false
	uc, _, _ = sharingFixture(t, flagOff, nil, config.ObjectSigningSharer{Enabled: true}, config.HtsgetSharer{}, s3)
	if _, err := uc.SignObject(ctx, "R001", domain.ProtocolS3, "bkt", "k"); !errors.Is(err, domain.ErrNotAuthorised) {
		t.Fatalf("release flag off: expected not authorised, got %v", err)
	}

	uc, _, _ = sharingFixture(t, signingRelease("R001"), nil, config.ObjectSigningSharer{Enabled: false}, config.HtsgetSharer{}, s3)
	if _, err := uc.SignObject(ctx, "R001", domain.ProtocolS3, "bkt", "k"); !errors.Is(err, domain.ErrNotEnabled) {
		t.Fatalf("deployment gate closed: expected not enabled, got %v", err)
	}

	noR2 := signingRelease("R001")
	uc, _, _ = sharingFixture(t, noR2, nil, config.ObjectSigningSharer{Enabled: true}, config.HtsgetSharer{}, s3)
	if _, err := uc.SignObject(ctx, "R001", domain.ProtocolR2, "bkt", "k"); !errors.Is(err, domain.ErrNotAuthorised) {
		t.Fatalf("disallowed location: expected not authorised, got %v", err)
	}
}

func TestSignObjectUnhandledProtocol(t *testing.T) {
	s3 := &mockPresigner{protocol: domain.ProtocolS3}
	uc, _, _ := sharingFixture(t, signingRelease("R001"), nil, config.ObjectSigningSharer{Enabled: true}, config.HtsgetSharer{}, s3)

	// gs is allowed on the release but no adapter is registered for it
	_, err := uc.SignObject(context.Background(), "R001", domain.ProtocolGS, "bkt", "k")
	if !errors.Is(err, domain.UnhandledProtocolError{}) {
		t.Fatalf("expected unhandled protocol error, got %v", err)
	}
}

func TestSignObjectDisabledAdapter(t *testing.T) {
	gs := &mockPresigner{protocol: domain.ProtocolGS, disabled: true}
	uc, _, _ := sharingFixture(t, signingRelease("R001"), nil, config.ObjectSigningSharer{Enabled: true}, config.HtsgetSharer{}, gs)

	_, err := uc.SignObject(context.Background(), "R001", domain.ProtocolGS, "bkt", "k")
	if !errors.Is(err, domain.ErrNotEnabled) {
		t.Fatalf("expected not enabled, got %v", err)
	}
}

func TestSigningExpiryBounds(t *testing.T) {
	ctx := context.Background()
	s3 := &mockPresigner{protocol: domain.ProtocolS3}

	// release with no expiry of its own falls back to deployment default
	def := signingRelease("R001")
	def.DataSharing.ObjectSigningExpiryHours = 0
	uc, _, _ := sharingFixture(t, def, nil, config.ObjectSigningSharer{Enabled: true, ExpiryHours: 6}, config.HtsgetSharer{}, s3)
	if _, err := uc.SignObject(ctx, "R001", domain.ProtocolS3, "bkt", "k"); err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if s3.lastExpiry != 6*time.Hour {
		t.Fatalf("expected deployment default expiry, got %s", s3.lastExpiry)
	}

	// an oversized per-release expiry is capped
	long := signingRelease("R001")
	long.DataSharing.ObjectSigningExpiryHours = 24 * 30
	uc, _, _ = sharingFixture(t, long, nil, config.ObjectSigningSharer{Enabled: true, ExpiryHours: 6}, config.HtsgetSharer{}, s3)
	if _, err := uc.SignObject(ctx, "R001", domain.ProtocolS3, "bkt", "k"); err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if s3.lastExpiry != maxSigningExpiry {
		t.Fatalf("expected capped expiry, got %s", s3.lastExpiry)
	}
}

func TestPresignRequiresParticipation(t *testing.T) {
	s3 := &mockPresigner{protocol: domain.ProtocolS3}
	uc, _, _ := sharingFixture(t, signingRelease("R001"), nil, config.ObjectSigningSharer{Enabled: true}, config.HtsgetSharer{}, s3)

	if _, err := uc.Presign(context.Background(), adminUser, "R001", domain.ProtocolS3, "bkt", "k"); !errors.Is(err, domain.ErrNotAuthorised) {
		t.Fatalf("non-participant must be refused, got %v", err)
	}
	if _, err := uc.Presign(context.Background(), memberUser, "R001", domain.ProtocolS3, "bkt", "k"); err != nil {
		t.Fatalf("participant presign failed: %v", err)
	}
}

func htsgetConfig() config.HtsgetSharer {
	return config.HtsgetSharer{
		Enabled:         true,
		Bucket:          "manifest-bucket",
		ManifestsFolder: "htsget-manifests",
		MaxAgeSeconds:   86400,
	}
}

func TestPublishHtsgetManifestBuildsWhenMissing(t *testing.T) {
	records := []ArtifactRecord{
		{CaseID: "c1", PatientID: "p1", SpecimenID: "s1", ArtifactID: "a1", Type: domain.ArtifactBam, URL: "s3://bkt/s1.bam"},
	}
	uc, _, store := sharingFixture(t, signingRelease("R001"), records, config.ObjectSigningSharer{}, htsgetConfig())
	store.headErr = domain.NotFoundError{Resource: "object"}

	pub, err := uc.PublishHtsgetManifest(context.Background(), "R001")
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if pub.Bucket != "manifest-bucket" || pub.Key != "htsget-manifests/R001" {
		t.Fatalf("wrong location %+v", pub)
	}
	if pub.MaxAge != 86400 {
		t.Fatalf("fresh publication must carry the full max age, got %d", pub.MaxAge)
	}

	body, ok := store.puts["manifest-bucket/htsget-manifests/R001"]
	if !ok {
		t.Fatalf("manifest not written to storage")
	}
	var manifest domain.HtsgetManifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		t.Fatalf("published body is not a manifest: %v", err)
	}
	if len(manifest.Reads) != 1 || manifest.Reads[0].ID != "s1" {
		t.Fatalf("wrong manifest contents: %+v", manifest)
	}
}

func TestPublishHtsgetManifestReusesFreshCopy(t *testing.T) {
	records := []ArtifactRecord{
		{SpecimenID: "s1", ArtifactID: "a1", Type: domain.ArtifactBam, URL: "s3://bkt/s1.bam"},
	}
	uc, _, store := sharingFixture(t, signingRelease("R001"), records, config.ObjectSigningSharer{}, htsgetConfig())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	uc.now = func() time.Time { return now }
	store.head = ObjectInfo{LastModified: now.Add(-time.Hour)}

	pub, err := uc.PublishHtsgetManifest(context.Background(), "R001")
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if pub.MaxAge != 86400-3600 {
		t.Fatalf("expected remaining freshness, got %d", pub.MaxAge)
	}
	if len(store.puts) != 0 {
		t.Fatalf("fresh copy must not be republished")
	}
}

func TestPublishHtsgetManifestRebuildsStaleCopy(t *testing.T) {
	records := []ArtifactRecord{
		{SpecimenID: "s1", ArtifactID: "a1", Type: domain.ArtifactBam, URL: "s3://bkt/s1.bam"},
	}
	uc, _, store := sharingFixture(t, signingRelease("R001"), records, config.ObjectSigningSharer{}, htsgetConfig())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	uc.now = func() time.Time { return now }
	store.head = ObjectInfo{LastModified: now.Add(-48 * time.Hour)}

	pub, err := uc.PublishHtsgetManifest(context.Background(), "R001")
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if pub.MaxAge != 86400 {
		t.Fatalf("rebuilt publication must carry the full max age, got %d", pub.MaxAge)
	}
	if len(store.puts) != 1 {
		t.Fatalf("stale copy must be republished")
	}
}

func TestPublishHtsgetManifestRestrictionsApplied(t *testing.T) {
	records := []ArtifactRecord{
		{SpecimenID: "s1", ArtifactID: "a1", Type: domain.ArtifactBam, URL: "s3://bkt/s1.bam", PatientPhenotypes: []string{"Autism"}},
		{SpecimenID: "s2", ArtifactID: "a2", Type: domain.ArtifactBam, URL: "s3://bkt/s2.bam"},
	}
	release := signingRelease("R001")
	release.HtsgetRestrictions = []domain.HtsgetRestriction{domain.RestrictionAutism}
	uc, _, store := sharingFixture(t, release, records, config.ObjectSigningSharer{}, htsgetConfig())
	store.headErr = domain.NotFoundError{Resource: "object"}

	if _, err := uc.PublishHtsgetManifest(context.Background(), "R001"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	var manifest domain.HtsgetManifest
	if err := json.Unmarshal(store.puts["manifest-bucket/htsget-manifests/R001"], &manifest); err != nil {
		t.Fatalf("published body is not a manifest: %v", err)
	}
	if len(manifest.Reads) != 1 || manifest.Reads[0].ID != "s2" {
		t.Fatalf("restricted specimen leaked: %+v", manifest.Reads)
	}
}

func TestPublishHtsgetManifestAuditDeduplicated(t *testing.T) {
	records := []ArtifactRecord{
		{SpecimenID: "s1", ArtifactID: "a1", Type: domain.ArtifactBam, URL: "s3://bkt/s1.bam"},
	}
	releases := newMockReleaseRepo()
	releases.add(signingRelease("R001"))
	auditRepo := newMockAuditRepo()
	audit := NewAuditService(auditRepo, newMockLease())
	manifests := NewManifestUsecase(releases, &mockManifestRepo{records: records}, nil)
	store := newMockStore()
	store.headErr = domain.NotFoundError{Resource: "object"}

	uc, err := NewSharingUsecase(releases, manifests, store, audit, config.ObjectSigningSharer{}, htsgetConfig())
	if err != nil {
		t.Fatalf("construct sharing usecase: %v", err)
	}
	ctx := context.Background()

	if _, err := uc.PublishHtsgetManifest(ctx, "R001"); err != nil {
		t.Fatalf("first publish failed: %v", err)
	}
	if _, err := uc.PublishHtsgetManifest(ctx, "R001"); err != nil {
		t.Fatalf("second publish failed: %v", err)
	}

	// repeated publication within the freshness window shares one audit event
	if len(auditRepo.started) != 1 {
		t.Fatalf("expected one audit event for repeated publication, got %d", len(auditRepo.started))
	}
	if got := auditRepo.completed[1].outcome; got != domain.AuditSuccess {
		t.Fatalf("expected success outcome, got %d", got)
	}
}

func TestPublishHtsgetManifestGates(t *testing.T) {
	ctx := context.Background()

	flagOff := signingRelease("R001")
	flagOff.DataSharing.HtsgetEnabled = false
	uc, _, _ := sharingFixture(t, flagOff, nil, config.ObjectSigningSharer{}, htsgetConfig())
	if _, err := uc.PublishHtsgetManifest(ctx, "R001"); !errors.Is(err, domain.ErrNotAuthorised) {
		t.Fatalf("release flag off: expected not authorised, got %v", err)
	}

	disabled := htsgetConfig()
	disabled.Enabled = false
	uc, _, _ = sharingFixture(t, signingRelease("R001"), nil, config.ObjectSigningSharer{}, disabled)
	if _, err := uc.PublishHtsgetManifest(ctx, "R001"); !errors.Is(err, domain.ErrNotEnabled) {
		t.Fatalf("deployment gate closed: expected not enabled, got %v", err)
	}
}
