package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/yeka/zip"
	"go.opentelemetry.io/otel"

	"github.com/opencurate/releasehub/internal/domain"
)

var manifestTracer = otel.Tracer("manifest")

// tsvColumns is the fixed column order of the TSV manifest.
var tsvColumns = []string{
	"caseId", "patientId", "specimenId", "artifactId",
	"objectType", "objectSize",
	"objectStoreProtocol", "objectStoreUrl", "objectStoreBucket", "objectStoreKey",
	"objectStoreSigned", "md5",
}

// ManifestUsecase computes the canonical manifest of an activated release
// and renders it into the sharing-mechanism-specific shapes.
type ManifestUsecase struct {
	releases ReleaseRepository
	repo     ManifestRepository
	cache    ManifestCache
	signer   Signer
}

func NewManifestUsecase(releases ReleaseRepository, repo ManifestRepository, cache ManifestCache) *ManifestUsecase {
	return &ManifestUsecase{releases: releases, repo: repo, cache: cache}
}

// SetSigner wires the presigning collaborator. Set once at startup; the
// signing and manifest services depend on each other so one side is late
// bound.
func (uc *ManifestUsecase) SetSigner(s Signer) {
	uc.signer = s
}

// BuildManifest assembles the canonical manifest for an activated release:
// non-deleted files of artifacts under selected specimens, filtered by the
// release's allow flags. A disallowed type or location is excluded silently
// (under-sharing is the enforcement mechanism); a file with a malformed
// storage URL is an error, never a silent omission. Returns nil when the
// release cannot be resolved, is not activated, or has no eligible data.
func (uc *ManifestUsecase) BuildManifest(ctx context.Context, releaseKey string) (*domain.Manifest, error) {
	ctx, span := manifestTracer.Start(ctx, "Manifest.Usecase.BuildManifest")
	defer span.End()

	release, err := uc.releases.Get(ctx, releaseKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !release.IsActivated() {
		return nil, nil
	}

	records, err := uc.repo.GetSelectedArtifacts(ctx, releaseKey)
	if err != nil {
		return nil, err
	}

	objects := make([]domain.ManifestObject, 0, len(records))
	for _, rec := range records {
		if !release.AllowsArtifactType(rec.Type) {
			continue
		}
		protocol, bucket, key, err := domain.ParseObjectURL(rec.URL)
		if err != nil {
			return nil, err
		}
		if !release.AllowsProtocol(protocol) {
			continue
		}
		objects = append(objects, domain.ManifestObject{
			CaseID:              rec.CaseID,
			PatientID:           rec.PatientID,
			SpecimenID:          rec.SpecimenID,
			ArtifactID:          rec.ArtifactID,
			ObjectType:          string(rec.Type),
			ObjectSize:          rec.Size,
			ObjectStoreProtocol: string(protocol),
			ObjectStoreURL:      rec.URL,
			ObjectStoreBucket:   bucket,
			ObjectStoreKey:      key,
			MD5:                 rec.MD5,
		})
	}

	if len(objects) == 0 {
		return nil, nil
	}

	// byte-for-byte reproducibility for identical release state
	sort.Slice(objects, func(i, j int) bool {
		a, b := objects[i], objects[j]
		if a.CaseID != b.CaseID {
			return a.CaseID < b.CaseID
		}
		if a.PatientID != b.PatientID {
			return a.PatientID < b.PatientID
		}
		if a.SpecimenID != b.SpecimenID {
			return a.SpecimenID < b.SpecimenID
		}
		if a.ArtifactID != b.ArtifactID {
			return a.ArtifactID < b.ArtifactID
		}
		return a.ObjectStoreURL < b.ObjectStoreURL
	})

	return &domain.Manifest{ID: releaseKey, Objects: objects}, nil
}

// TransformTSV renders a manifest as tab-separated values with a header
// row. Records missing a storage URL, and values containing tab or newline
// characters, are rejected rather than silently corrupting the output.
func TransformTSV(m *domain.Manifest) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(strings.Join(tsvColumns, "\t"))
	buf.WriteByte('\n')

	for _, o := range m.Objects {
		if o.ObjectStoreURL == "" {
			return nil, domain.ValidationError{Message: "manifest record for specimen " + o.SpecimenID + " has no storage url"}
		}
		fields := []string{
			o.CaseID, o.PatientID, o.SpecimenID, o.ArtifactID,
			o.ObjectType, strconv.FormatInt(o.ObjectSize, 10),
			o.ObjectStoreProtocol, o.ObjectStoreURL, o.ObjectStoreBucket, o.ObjectStoreKey,
			o.ObjectStoreSigned, o.MD5,
		}
		for _, f := range fields {
			if strings.ContainsAny(f, "\t\n\r") {
				return nil, domain.ValidationError{Message: "manifest value contains tab or newline: " + strconv.Quote(f)}
			}
		}
		buf.WriteString(strings.Join(fields, "\t"))
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// TransformHtsget subsets a manifest to the BAM/CRAM/VCF records relevant to
// htsget block retrieval, dropping (never erroring on) records withheld by
// the release's htsget restrictions.
func TransformHtsget(m *domain.Manifest, restrictions []domain.HtsgetRestriction, restricted map[string]bool) (*domain.HtsgetManifest, error) {
	names := make([]string, 0, len(restrictions))
	for _, r := range restrictions {
		names = append(names, string(r))
	}

	out := &domain.HtsgetManifest{
		ID:       m.ID,
		Reads:    []domain.HtsgetManifestRead{},
		Variants: []domain.HtsgetManifestVariant{},
	}
	for _, o := range m.Objects {
		if o.ObjectStoreURL == "" {
			return nil, domain.ValidationError{Message: "manifest record for specimen " + o.SpecimenID + " has no storage url"}
		}
		if restricted[o.SpecimenID] {
			continue
		}
		switch domain.ArtifactType(o.ObjectType) {
		case domain.ArtifactBam, domain.ArtifactCram:
			out.Reads = append(out.Reads, domain.HtsgetManifestRead{
				ID:         o.SpecimenID,
				Format:     o.ObjectType,
				URL:        o.ObjectStoreURL,
				Restricted: names,
			})
		case domain.ArtifactVcf:
			out.Variants = append(out.Variants, domain.HtsgetManifestVariant{
				ID:         o.SpecimenID,
				Format:     o.ObjectType,
				URL:        o.ObjectStoreURL,
				Restricted: names,
			})
		}
	}
	return out, nil
}

// TransformArchive packages a rendered TSV manifest into a zip archive,
// AES-encrypted when a password is set on the release.
func TransformArchive(tsv []byte, releaseKey, password string) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	name := "manifest-" + releaseKey + ".tsv"
	var entry io.Writer
	var err error
	if password != "" {
		entry, err = w.Encrypt(name, password, zip.AES256Encryption)
	} else {
		entry, err = w.Create(name)
	}
	if err != nil {
		return nil, err
	}
	if _, err := entry.Write(tsv); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GetActiveTsvManifest renders the TSV manifest of an activated release for
// a participant. With signing requested, each record additionally carries a
// presigned URL; signed output is never cached because the signatures are
// caller-scoped and expiring. Returns nil when there is no active manifest.
func (uc *ManifestUsecase) GetActiveTsvManifest(ctx context.Context, user domain.AuthenticatedUser, releaseKey string, signed bool) ([]byte, error) {
	ctx, span := manifestTracer.Start(ctx, "Manifest.Usecase.GetActiveTsvManifest")
	defer span.End()

	if _, err := uc.releases.GetRole(ctx, user.SubjectID, releaseKey); err != nil {
		return nil, err
	}

	cacheKey := "manifest:tsv:" + releaseKey
	if !signed && uc.cache != nil {
		if blob, ok := uc.cache.Get(cacheKey); ok {
			return blob, nil
		}
	}

	manifest, err := uc.BuildManifest(ctx, releaseKey)
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		return nil, nil
	}

	if signed {
		if uc.signer == nil {
			return nil, domain.NotEnabledError{Mechanism: "object signing"}
		}
		for i := range manifest.Objects {
			o := &manifest.Objects[i]
			url, err := uc.signer.SignObject(ctx, releaseKey, domain.Protocol(o.ObjectStoreProtocol), o.ObjectStoreBucket, o.ObjectStoreKey)
			if err != nil {
				return nil, err
			}
			o.ObjectStoreSigned = url
		}
	}

	tsv, err := TransformTSV(manifest)
	if err != nil {
		return nil, err
	}

	if !signed && uc.cache != nil {
		if err := uc.cache.Set(cacheKey, tsv); err != nil {
			span.RecordError(err)
		}
	}
	return tsv, nil
}

// GetActiveTsvManifestAsArchive renders the TSV manifest into a zip archive
// encrypted with the release's download password when one is set.
func (uc *ManifestUsecase) GetActiveTsvManifestAsArchive(ctx context.Context, user domain.AuthenticatedUser, releaseKey string, signed bool) ([]byte, error) {
	tsv, err := uc.GetActiveTsvManifest(ctx, user, releaseKey, signed)
	if err != nil {
		return nil, err
	}
	if tsv == nil {
		return nil, nil
	}

	release, err := uc.releases.Get(ctx, releaseKey)
	if err != nil {
		return nil, err
	}
	return TransformArchive(tsv, releaseKey, release.DownloadPassword)
}

// GetActiveJSONManifest renders the manifest objects as a JSON array, cached
// like the unsigned TSV rendering.
func (uc *ManifestUsecase) GetActiveJSONManifest(ctx context.Context, user domain.AuthenticatedUser, releaseKey string) ([]byte, error) {
	ctx, span := manifestTracer.Start(ctx, "Manifest.Usecase.GetActiveJSONManifest")
	defer span.End()

	if _, err := uc.releases.GetRole(ctx, user.SubjectID, releaseKey); err != nil {
		return nil, err
	}

	cacheKey := "manifest:json:" + releaseKey
	if uc.cache != nil {
		if blob, ok := uc.cache.Get(cacheKey); ok {
			return blob, nil
		}
	}

	manifest, err := uc.BuildManifest(ctx, releaseKey)
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		return nil, nil
	}

	blob, err := json.Marshal(manifest.Objects)
	if err != nil {
		return nil, err
	}
	if uc.cache != nil {
		if err := uc.cache.Set(cacheKey, blob); err != nil {
			span.RecordError(err)
		}
	}
	return blob, nil
}

// RestrictedSpecimens resolves which selected specimens fall under the
// release's htsget restrictions, by matching restriction names against the
// phenotype codes of the owning patients.
func (uc *ManifestUsecase) RestrictedSpecimens(ctx context.Context, releaseKey string, restrictions []domain.HtsgetRestriction) (map[string]bool, error) {
	if len(restrictions) == 0 {
		return map[string]bool{}, nil
	}
	records, err := uc.repo.GetSelectedArtifacts(ctx, releaseKey)
	if err != nil {
		return nil, err
	}
	byName := map[string]bool{}
	for _, r := range restrictions {
		byName[string(r)] = true
	}
	restricted := map[string]bool{}
	for _, rec := range records {
		for _, code := range rec.PatientPhenotypes {
			if byName[code] {
				restricted[rec.SpecimenID] = true
				break
			}
		}
	}
	return restricted, nil
}
