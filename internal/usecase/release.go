package usecase

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/opencurate/releasehub/internal/domain"
)

var releaseTracer = otel.Tracer("release")

// ReleaseDetail is the full view of a release for one caller, including the
// role driving what the caller may do with it.
type ReleaseDetail struct {
	domain.Release

	RoleInRelease domain.Role `json:"roleInRelease"`

	PermissionEditSelections       bool `json:"permissionEditSelections"`
	PermissionEditApplicationCoded bool `json:"permissionEditApplicationCoded"`
	PermissionAccessData           bool `json:"permissionAccessData"`
}

type ReleaseUsecase struct {
	repo      ReleaseRepository
	audit     *AuditService
	keyPrefix string
}

func NewReleaseUsecase(repo ReleaseRepository, audit *AuditService, keyPrefix string) *ReleaseUsecase {
	return &ReleaseUsecase{repo: repo, audit: audit, keyPrefix: keyPrefix}
}

// New creates a release in the inactive state from manually supplied
// DAC-equivalent fields and registers the creator as Administrator.
func (uc *ReleaseUsecase) New(ctx context.Context, user domain.AuthenticatedUser, input domain.ManualReleaseInput) (string, error) {
	ctx, span := releaseTracer.Start(ctx, "Release.Usecase.New")
	defer span.End()

	studyType, err := domain.ParseStudyType(input.StudyType)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input.Title) == "" {
		return "", domain.ValidationError{Message: "release title is required"}
	}
	if len(input.DatasetURIs) == 0 {
		return "", domain.ValidationError{Message: "at least one dataset uri is required"}
	}

	missing, err := uc.repo.MissingDatasets(ctx, input.DatasetURIs)
	if err != nil {
		return "", err
	}
	if len(missing) > 0 {
		return "", domain.ValidationError{Message: "unknown dataset uri " + strings.Join(missing, ", ")}
	}

	key, err := uc.repo.NextKey(ctx, uc.keyPrefix)
	if err != nil {
		return "", err
	}

	return AuditPattern(ctx, uc.audit, user, key, domain.AuditCreate, "create release", func(ctx context.Context) (string, error) {
		release := domain.Release{
			Key:                            key,
			LastUpdatedSubjectID:           user.SubjectID,
			ApplicationDacIdentifierSystem: "manual",
			ApplicationDacIdentifierValue:  key,
			ApplicationDacTitle:            input.Title,
			ApplicationDacDetails:          input.Description + "\n\nApplicants: " + input.ApplicantEmailAddresses,
			DatasetURIs:                    input.DatasetURIs,
			ApplicationCoded: domain.ApplicationCoded{
				StudyType: studyType,
				Diseases:  []domain.Coding{},
				Countries: []domain.Coding{},
			},
		}
		creator := domain.Participant{
			SubjectID:   user.SubjectID,
			Email:       user.Email,
			DisplayName: user.DisplayName,
			Role:        domain.RoleAdministrator,
		}
		if err := uc.repo.Create(ctx, release, creator); err != nil {
			return "", err
		}
		return key, nil
	})
}

// Get returns the release detail for a participant. Non-participants receive
// a NotAuthorisedError whether or not the release exists.
func (uc *ReleaseUsecase) Get(ctx context.Context, user domain.AuthenticatedUser, releaseKey string) (*ReleaseDetail, error) {
	ctx, span := releaseTracer.Start(ctx, "Release.Usecase.Get")
	defer span.End()

	role, err := uc.repo.GetRole(ctx, user.SubjectID, releaseKey)
	if err != nil {
		return nil, err
	}

	release, err := uc.repo.Get(ctx, releaseKey)
	if err != nil {
		return nil, err
	}

	return &ReleaseDetail{
		Release:                        *release,
		RoleInRelease:                  role,
		PermissionEditSelections:       role.CanEditSelection(),
		PermissionEditApplicationCoded: role.CanEditApplicationCoded(),
		PermissionAccessData:           true,
	}, nil
}

// GetAll returns the releases the caller participates in.
func (uc *ReleaseUsecase) GetAll(ctx context.Context, user domain.AuthenticatedUser, limit, offset int) (PagedResult[domain.ReleaseSummary], error) {
	summaries, total, err := uc.repo.GetAllForUser(ctx, user.SubjectID, limit, offset)
	if err != nil {
		return PagedResult[domain.ReleaseSummary]{}, err
	}
	return PagedResult[domain.ReleaseSummary]{Data: summaries, Total: total}, nil
}

// requiredRoleCheck maps a patch command to its permission gate. Allow flags
// and data sharing configuration are administrator-only; application coding
// is open to managers as well.
func patchAllowed(role domain.Role, cmd domain.PatchCommand) bool {
	switch cmd.(type) {
	case domain.AddDisease, domain.RemoveDisease,
		domain.AddCountry, domain.RemoveCountry,
		domain.SetStudyType, domain.SetBeaconQuery:
		return role.CanEditApplicationCoded()
	default:
		return role.CanAdminister()
	}
}

// patchFrozenWhileActive reports whether the command mutates the sharing
// surface that is frozen during activation. Application coding may still be
// edited on an active release.
func patchFrozenWhileActive(cmd domain.PatchCommand) bool {
	switch cmd.(type) {
	case domain.AddDisease, domain.RemoveDisease,
		domain.AddCountry, domain.RemoveCountry,
		domain.SetStudyType, domain.SetBeaconQuery:
		return false
	default:
		return true
	}
}

// Patch applies exactly one mutation command to a release, under the
// repository's row-level serialization. Authorization runs before any write
// and the operation aborts whole on failure.
func (uc *ReleaseUsecase) Patch(ctx context.Context, user domain.AuthenticatedUser, releaseKey string, cmd domain.PatchCommand) error {
	ctx, span := releaseTracer.Start(ctx, "Release.Usecase.Patch")
	defer span.End()

	if cmd == nil {
		return domain.ValidationError{Message: "no patch operation supplied"}
	}

	role, err := uc.repo.GetRole(ctx, user.SubjectID, releaseKey)
	if err != nil {
		return err
	}
	if !patchAllowed(role, cmd) {
		return domain.ErrNotAuthorised
	}

	_, err = AuditPattern(ctx, uc.audit, user, releaseKey, domain.AuditUpdate, cmd.Description(), func(ctx context.Context) (any, error) {
		return nil, uc.repo.Mutate(ctx, releaseKey, func(r *domain.Release) error {
			if r.IsActivated() && patchFrozenWhileActive(cmd) {
				return domain.SelectionFrozenError{ReleaseKey: releaseKey}
			}
			if err := applyPatch(r, cmd); err != nil {
				return err
			}
			r.Touch(user.SubjectID)
			return nil
		})
	})
	return err
}

// applyPatch is the exhaustive dispatch over the closed command union.
func applyPatch(r *domain.Release, cmd domain.PatchCommand) error {
	switch c := cmd.(type) {
	case domain.AddDisease:
		r.ApplicationCoded.Diseases = domain.AddCoding(r.ApplicationCoded.Diseases, c.Coding)
	case domain.RemoveDisease:
		r.ApplicationCoded.Diseases = domain.RemoveCoding(r.ApplicationCoded.Diseases, c.Coding)
	case domain.AddCountry:
		r.ApplicationCoded.Countries = domain.AddCoding(r.ApplicationCoded.Countries, c.Coding)
	case domain.RemoveCountry:
		r.ApplicationCoded.Countries = domain.RemoveCoding(r.ApplicationCoded.Countries, c.Coding)
	case domain.SetStudyType:
		r.ApplicationCoded.StudyType = c.StudyType
	case domain.SetBeaconQuery:
		r.ApplicationCoded.BeaconQuery = c.Query
	case domain.SetAllowed:
		switch c.Flag {
		case domain.AllowReadData:
			r.AllowedReadData = c.Value
		case domain.AllowVariantData:
			r.AllowedVariantData = c.Value
		case domain.AllowPhenotypeData:
			r.AllowedPhenotypeData = c.Value
		case domain.AllowS3Data:
			r.AllowedS3Data = c.Value
		case domain.AllowGSData:
			r.AllowedGSData = c.Value
		case domain.AllowR2Data:
			r.AllowedR2Data = c.Value
		default:
			return domain.ValidationError{Message: "unknown allow flag " + string(c.Flag)}
		}
	case domain.SetObjectSigningEnabled:
		r.DataSharing.ObjectSigningEnabled = c.Value
	case domain.SetObjectSigningExpiryHours:
		if c.Value <= 0 {
			return domain.ValidationError{Message: "object signing expiry must be positive"}
		}
		r.DataSharing.ObjectSigningExpiryHours = c.Value
	case domain.SetCopyOutEnabled:
		r.DataSharing.CopyOutEnabled = c.Value
	case domain.SetCopyOutDestination:
		r.DataSharing.CopyOutDestination = c.Value
	case domain.SetHtsgetEnabled:
		r.DataSharing.HtsgetEnabled = c.Value
	case domain.SetAwsAccessPointEnabled:
		r.DataSharing.AwsAccessPointEnabled = c.Value
	case domain.SetAwsAccessPointAccountID:
		r.DataSharing.AwsAccessPointAccountID = c.Value
	case domain.SetAwsAccessPointVpcID:
		r.DataSharing.AwsAccessPointVpcID = c.Value
	case domain.SetGcpStorageIamEnabled:
		r.DataSharing.GcpStorageIamEnabled = c.Value
	case domain.SetGcpStorageIamUsers:
		r.DataSharing.GcpStorageIamUsers = c.Value
	default:
		return domain.ValidationError{Message: "unknown patch operation"}
	}
	return nil
}

// Activate transitions Inactive -> Active. Administrator only; activating an
// already active release is a hard state error.
func (uc *ReleaseUsecase) Activate(ctx context.Context, user domain.AuthenticatedUser, releaseKey string) error {
	ctx, span := releaseTracer.Start(ctx, "Release.Usecase.Activate")
	defer span.End()

	role, err := uc.repo.GetRole(ctx, user.SubjectID, releaseKey)
	if err != nil {
		return err
	}
	if !role.CanAdminister() {
		return domain.ErrNotAuthorised
	}

	_, err = AuditPattern(ctx, uc.audit, user, releaseKey, domain.AuditExecute, "activate release", func(ctx context.Context) (any, error) {
		return nil, uc.repo.Mutate(ctx, releaseKey, func(r *domain.Release) error {
			if r.IsActivated() {
				return domain.ReleaseActivationStateError{ReleaseKey: releaseKey}
			}
			r.Activation = &domain.Activation{
				ActivatedBySubjectID:   user.SubjectID,
				ActivatedByDisplayName: user.DisplayName,
			}
			r.Touch(user.SubjectID)
			return nil
		})
	})
	return err
}

// Deactivate transitions Active -> Inactive, moving the current activation
// record into the append-only history.
func (uc *ReleaseUsecase) Deactivate(ctx context.Context, user domain.AuthenticatedUser, releaseKey string) error {
	ctx, span := releaseTracer.Start(ctx, "Release.Usecase.Deactivate")
	defer span.End()

	role, err := uc.repo.GetRole(ctx, user.SubjectID, releaseKey)
	if err != nil {
		return err
	}
	if !role.CanAdminister() {
		return domain.ErrNotAuthorised
	}

	_, err = AuditPattern(ctx, uc.audit, user, releaseKey, domain.AuditExecute, "deactivate release", func(ctx context.Context) (any, error) {
		return nil, uc.repo.Mutate(ctx, releaseKey, func(r *domain.Release) error {
			if !r.IsActivated() {
				return domain.ReleaseDeactivationStateError{ReleaseKey: releaseKey}
			}
			r.PastActivations = append(r.PastActivations, *r.Activation)
			r.Activation = nil
			r.Touch(user.SubjectID)
			return nil
		})
	})
	return err
}

// ApplyHtsgetRestriction adds a named withholding category. Set semantics:
// applying a restriction already present is a no-op.
func (uc *ReleaseUsecase) ApplyHtsgetRestriction(ctx context.Context, user domain.AuthenticatedUser, releaseKey string, restriction domain.HtsgetRestriction) error {
	return uc.mutateRestrictions(ctx, user, releaseKey, "apply htsget restriction", func(list []domain.HtsgetRestriction) []domain.HtsgetRestriction {
		for _, have := range list {
			if have == restriction {
				return list
			}
		}
		return append(list, restriction)
	})
}

// RemoveHtsgetRestriction removes a named withholding category if present.
func (uc *ReleaseUsecase) RemoveHtsgetRestriction(ctx context.Context, user domain.AuthenticatedUser, releaseKey string, restriction domain.HtsgetRestriction) error {
	return uc.mutateRestrictions(ctx, user, releaseKey, "remove htsget restriction", func(list []domain.HtsgetRestriction) []domain.HtsgetRestriction {
		out := list[:0]
		for _, have := range list {
			if have != restriction {
				out = append(out, have)
			}
		}
		return out
	})
}

func (uc *ReleaseUsecase) mutateRestrictions(ctx context.Context, user domain.AuthenticatedUser, releaseKey, description string, fn func([]domain.HtsgetRestriction) []domain.HtsgetRestriction) error {
	role, err := uc.repo.GetRole(ctx, user.SubjectID, releaseKey)
	if err != nil {
		return err
	}
	if !role.CanEditApplicationCoded() {
		return domain.ErrNotAuthorised
	}

	_, err = AuditPattern(ctx, uc.audit, user, releaseKey, domain.AuditUpdate, description, func(ctx context.Context) (any, error) {
		return nil, uc.repo.Mutate(ctx, releaseKey, func(r *domain.Release) error {
			r.HtsgetRestrictions = fn(r.HtsgetRestrictions)
			r.Touch(user.SubjectID)
			return nil
		})
	})
	return err
}

// ListParticipants returns the membership of a release. Any participant may
// read it.
func (uc *ReleaseUsecase) ListParticipants(ctx context.Context, user domain.AuthenticatedUser, releaseKey string) ([]domain.Participant, error) {
	if _, err := uc.repo.GetRole(ctx, user.SubjectID, releaseKey); err != nil {
		return nil, err
	}
	return uc.repo.ListParticipants(ctx, releaseKey)
}

// AddParticipant adds or re-roles a participant. Administrator only.
func (uc *ReleaseUsecase) AddParticipant(ctx context.Context, user domain.AuthenticatedUser, releaseKey, email, roleName string) error {
	role, err := uc.repo.GetRole(ctx, user.SubjectID, releaseKey)
	if err != nil {
		return err
	}
	if !role.CanAdminister() {
		return domain.ErrNotAuthorised
	}
	newRole, err := domain.ParseRole(roleName)
	if err != nil {
		return err
	}
	if strings.TrimSpace(email) == "" {
		return domain.ValidationError{Message: "participant email is required"}
	}

	_, err = AuditPattern(ctx, uc.audit, user, releaseKey, domain.AuditUpdate, "add participant", func(ctx context.Context) (any, error) {
		return nil, uc.repo.UpsertParticipant(ctx, releaseKey, domain.Participant{Email: email, Role: newRole})
	})
	return err
}

// RemoveParticipant removes a participant by email. Administrator only.
func (uc *ReleaseUsecase) RemoveParticipant(ctx context.Context, user domain.AuthenticatedUser, releaseKey, email string) error {
	role, err := uc.repo.GetRole(ctx, user.SubjectID, releaseKey)
	if err != nil {
		return err
	}
	if !role.CanAdminister() {
		return domain.ErrNotAuthorised
	}

	_, err = AuditPattern(ctx, uc.audit, user, releaseKey, domain.AuditUpdate, "remove participant", func(ctx context.Context) (any, error) {
		return nil, uc.repo.RemoveParticipant(ctx, releaseKey, email)
	})
	return err
}
