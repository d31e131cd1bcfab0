package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/opencurate/releasehub/internal/domain"
)

func releaseFixture() (*ReleaseUsecase, *mockReleaseRepo, *mockAuditRepo) {
	repo := newMockReleaseRepo()
	repo.knownDatasets["urn:example:ds1"] = true
	audit, auditRepo := newTestAudit()
	return NewReleaseUsecase(repo, audit, "R"), repo, auditRepo
}

func TestNewReleaseCreatesAdministrator(t *testing.T) {
	uc, repo, _ := releaseFixture()

	key, err := uc.New(context.Background(), adminUser, domain.ManualReleaseInput{
		Title:                   "Cardiac cohort 2026",
		Description:             "Approved by the committee",
		StudyType:               "DS",
		DatasetURIs:             []string{"urn:example:ds1"},
		ApplicantEmailAddresses: "alice@example.org",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if key != "R001" {
		t.Fatalf("unexpected key %s", key)
	}

	r := repo.releases[key]
	if r == nil {
		t.Fatalf("release not persisted")
	}
	if r.IsActivated() {
		t.Fatalf("new release must start inactive")
	}
	if r.ApplicationDacIdentifierSystem != "manual" || r.ApplicationDacIdentifierValue != key {
		t.Fatalf("manual identifier wrong: %s/%s", r.ApplicationDacIdentifierSystem, r.ApplicationDacIdentifierValue)
	}
	if !strings.Contains(r.ApplicationDacDetails, "alice@example.org") {
		t.Fatalf("applicant emails should be folded into details")
	}

	participants := repo.participants[key]
	if len(participants) != 1 || participants[0].Role != domain.RoleAdministrator || participants[0].SubjectID != adminUser.SubjectID {
		t.Fatalf("creator should become Administrator, got %+v", participants)
	}
}

func TestNewReleaseValidation(t *testing.T) {
	uc, _, _ := releaseFixture()

	cases := []struct {
		name  string
		input domain.ManualReleaseInput
	}{
		{"unknown study type", domain.ManualReleaseInput{Title: "T", StudyType: "XX", DatasetURIs: []string{"urn:example:ds1"}}},
		{"blank title", domain.ManualReleaseInput{Title: "  ", StudyType: "DS", DatasetURIs: []string{"urn:example:ds1"}}},
		{"no datasets", domain.ManualReleaseInput{Title: "T", StudyType: "DS"}},
		{"unknown dataset", domain.ManualReleaseInput{Title: "T", StudyType: "DS", DatasetURIs: []string{"urn:example:nope"}}},
	}
	for _, tc := range cases {
		if _, err := uc.New(context.Background(), adminUser, tc.input); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestGetHidesExistenceFromStrangers(t *testing.T) {
	uc, repo, _ := releaseFixture()
	repo.add(domain.Release{Key: "R001"})
	repo.grant(adminUser.SubjectID, "R001", domain.RoleAdministrator)

	if _, err := uc.Get(context.Background(), memberUser, "R001"); !errors.Is(err, domain.ErrNotAuthorised) {
		t.Fatalf("non-participant must get not authorised, got %v", err)
	}
	if _, err := uc.Get(context.Background(), memberUser, "R999"); !errors.Is(err, domain.ErrNotAuthorised) {
		t.Fatalf("nonexistent release must look identical, got %v", err)
	}

	detail, err := uc.Get(context.Background(), adminUser, "R001")
	if err != nil {
		t.Fatalf("participant get failed: %v", err)
	}
	if detail.RoleInRelease != domain.RoleAdministrator || !detail.PermissionEditSelections {
		t.Fatalf("unexpected detail %+v", detail)
	}
}

func TestActivateLifecycle(t *testing.T) {
	uc, repo, _ := releaseFixture()
	repo.add(domain.Release{Key: "R001"})
	repo.grant(adminUser.SubjectID, "R001", domain.RoleAdministrator)

	if err := uc.Activate(context.Background(), adminUser, "R001"); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	r := repo.releases["R001"]
	if !r.IsActivated() || r.Activation.ActivatedBySubjectID != adminUser.SubjectID {
		t.Fatalf("activation not recorded: %+v", r.Activation)
	}
	if r.LastUpdated.IsZero() {
		t.Fatalf("activation must advance the last updated timestamp")
	}

	if err := uc.Activate(context.Background(), adminUser, "R001"); !errors.Is(err, domain.ReleaseActivationStateError{}) {
		t.Fatalf("double activate must be a state error, got %v", err)
	}

	if err := uc.Deactivate(context.Background(), adminUser, "R001"); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	r = repo.releases["R001"]
	if r.IsActivated() {
		t.Fatalf("release still active")
	}
	if len(r.PastActivations) != 1 || r.PastActivations[0].ActivatedBySubjectID != adminUser.SubjectID {
		t.Fatalf("activation must move to history, got %+v", r.PastActivations)
	}

	if err := uc.Deactivate(context.Background(), adminUser, "R001"); !errors.Is(err, domain.ReleaseDeactivationStateError{}) {
		t.Fatalf("double deactivate must be a state error, got %v", err)
	}
}

func TestActivateRequiresAdministrator(t *testing.T) {
	uc, repo, _ := releaseFixture()
	repo.add(domain.Release{Key: "R001"})
	repo.grant(managerUser.SubjectID, "R001", domain.RoleManager)

	if err := uc.Activate(context.Background(), managerUser, "R001"); !errors.Is(err, domain.ErrNotAuthorised) {
		t.Fatalf("manager must not activate, got %v", err)
	}
}

func TestPatchPermissionGating(t *testing.T) {
	uc, repo, _ := releaseFixture()
	repo.add(domain.Release{Key: "R001"})
	repo.grant(managerUser.SubjectID, "R001", domain.RoleManager)
	repo.grant(memberUser.SubjectID, "R001", domain.RoleMember)

	coding := domain.Coding{System: "mondo", Code: "0008678"}

	if err := uc.Patch(context.Background(), managerUser, "R001", domain.AddDisease{Coding: coding}); err != nil {
		t.Fatalf("manager should edit application coding: %v", err)
	}
	if err := uc.Patch(context.Background(), managerUser, "R001", domain.SetAllowed{Flag: domain.AllowReadData, Value: true}); !errors.Is(err, domain.ErrNotAuthorised) {
		t.Fatalf("manager must not edit allow flags, got %v", err)
	}
	if err := uc.Patch(context.Background(), memberUser, "R001", domain.AddDisease{Coding: coding}); !errors.Is(err, domain.ErrNotAuthorised) {
		t.Fatalf("member must not edit application coding, got %v", err)
	}
}

func TestPatchApplies(t *testing.T) {
	uc, repo, _ := releaseFixture()
	repo.add(domain.Release{Key: "R001"})
	repo.grant(adminUser.SubjectID, "R001", domain.RoleAdministrator)
	ctx := context.Background()

	coding := domain.Coding{System: "iso", Code: "AU"}
	if err := uc.Patch(ctx, adminUser, "R001", domain.AddCountry{Coding: coding}); err != nil {
		t.Fatalf("add country failed: %v", err)
	}
	if err := uc.Patch(ctx, adminUser, "R001", domain.AddCountry{Coding: coding}); err != nil {
		t.Fatalf("duplicate add country should be a no-op: %v", err)
	}
	if got := repo.releases["R001"].ApplicationCoded.Countries; len(got) != 1 {
		t.Fatalf("expected one country, got %+v", got)
	}

	if err := uc.Patch(ctx, adminUser, "R001", domain.SetAllowed{Flag: domain.AllowS3Data, Value: true}); err != nil {
		t.Fatalf("set allow failed: %v", err)
	}
	if !repo.releases["R001"].AllowedS3Data {
		t.Fatalf("allow flag not applied")
	}

	if err := uc.Patch(ctx, adminUser, "R001", domain.SetObjectSigningExpiryHours{Value: -1}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("negative expiry must be rejected, got %v", err)
	}

	if err := uc.Patch(ctx, adminUser, "R001", domain.SetGcpStorageIamUsers{Value: []string{"user:a@example.org"}}); err != nil {
		t.Fatalf("set iam users failed: %v", err)
	}
	if got := repo.releases["R001"].DataSharing.GcpStorageIamUsers; len(got) != 1 || got[0] != "user:a@example.org" {
		t.Fatalf("iam users not replaced wholesale: %+v", got)
	}

	if err := uc.Patch(ctx, adminUser, "R001", nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("nil command must be rejected, got %v", err)
	}

	if r := repo.releases["R001"]; r.LastUpdatedSubjectID != adminUser.SubjectID {
		t.Fatalf("last updated attribution missing")
	}
	if r := repo.releases["R001"]; r.LastUpdated.IsZero() {
		t.Fatalf("mutation must advance the last updated timestamp")
	}
}

func TestPatchFrozenWhileActive(t *testing.T) {
	uc, repo, _ := releaseFixture()
	repo.add(domain.Release{Key: "R001", Activation: &domain.Activation{ActivatedBySubjectID: adminUser.SubjectID}})
	repo.grant(adminUser.SubjectID, "R001", domain.RoleAdministrator)
	ctx := context.Background()

	if err := uc.Patch(ctx, adminUser, "R001", domain.SetAllowed{Flag: domain.AllowReadData, Value: false}); !errors.Is(err, domain.SelectionFrozenError{}) {
		t.Fatalf("sharing surface must be frozen while active, got %v", err)
	}
	if err := uc.Patch(ctx, adminUser, "R001", domain.SetHtsgetEnabled{Value: false}); !errors.Is(err, domain.SelectionFrozenError{}) {
		t.Fatalf("data sharing config must be frozen while active, got %v", err)
	}

	// application coding stays editable on an active release
	if err := uc.Patch(ctx, adminUser, "R001", domain.SetBeaconQuery{Query: "{}"}); err != nil {
		t.Fatalf("coding edit on active release failed: %v", err)
	}
}

func TestHtsgetRestrictionSetSemantics(t *testing.T) {
	uc, repo, _ := releaseFixture()
	repo.add(domain.Release{Key: "R001"})
	repo.grant(managerUser.SubjectID, "R001", domain.RoleManager)
	ctx := context.Background()

	if err := uc.ApplyHtsgetRestriction(ctx, managerUser, "R001", domain.RestrictionAutism); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if err := uc.ApplyHtsgetRestriction(ctx, managerUser, "R001", domain.RestrictionAutism); err != nil {
		t.Fatalf("duplicate apply should be a no-op: %v", err)
	}
	if got := repo.releases["R001"].HtsgetRestrictions; len(got) != 1 {
		t.Fatalf("expected one restriction, got %+v", got)
	}

	if err := uc.RemoveHtsgetRestriction(ctx, managerUser, "R001", domain.RestrictionAutism); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if got := repo.releases["R001"].HtsgetRestrictions; len(got) != 0 {
		t.Fatalf("expected no restrictions, got %+v", got)
	}
}

func TestParticipantManagement(t *testing.T) {
	uc, repo, _ := releaseFixture()
	repo.add(domain.Release{Key: "R001"})
	repo.grant(adminUser.SubjectID, "R001", domain.RoleAdministrator)
	repo.grant(managerUser.SubjectID, "R001", domain.RoleManager)
	ctx := context.Background()

	if err := uc.AddParticipant(ctx, managerUser, "R001", "new@example.org", "Member"); !errors.Is(err, domain.ErrNotAuthorised) {
		t.Fatalf("manager must not add participants, got %v", err)
	}
	if err := uc.AddParticipant(ctx, adminUser, "R001", "new@example.org", "Overlord"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("unknown role must be rejected, got %v", err)
	}
	if err := uc.AddParticipant(ctx, adminUser, "R001", " ", "Member"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("blank email must be rejected, got %v", err)
	}

	if err := uc.AddParticipant(ctx, adminUser, "R001", "new@example.org", "Member"); err != nil {
		t.Fatalf("add participant failed: %v", err)
	}
	if len(repo.participants["R001"]) != 1 {
		t.Fatalf("participant not stored")
	}

	if err := uc.RemoveParticipant(ctx, adminUser, "R001", "new@example.org"); err != nil {
		t.Fatalf("remove participant failed: %v", err)
	}
	if err := uc.RemoveParticipant(ctx, adminUser, "R001", "new@example.org"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("removing an absent participant must be not found, got %v", err)
	}
}
