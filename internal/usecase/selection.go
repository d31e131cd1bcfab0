package usecase

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/opencurate/releasehub/internal/domain"
)

var selectionTracer = otel.Tracer("selection")

// SelectionUsecase maintains the per-release selection set and derives the
// tri-state status tree from it on every read.
type SelectionUsecase struct {
	releases ReleaseRepository
	repo     SelectionRepository
	audit    *AuditService
}

func NewSelectionUsecase(releases ReleaseRepository, repo SelectionRepository, audit *AuditService) *SelectionUsecase {
	return &SelectionUsecase{releases: releases, repo: repo, audit: audit}
}

// GetCases returns one page of case trees annotated with derived node
// status. Status is always computed over the complete child set of each
// case, so page boundaries cannot corrupt it. Members only see cases with
// at least one selected descendant, pruned to the selected nodes and with
// every visible node reported as selected; they cannot perceive what was
// withheld.
func (uc *SelectionUsecase) GetCases(ctx context.Context, user domain.AuthenticatedUser, releaseKey string, limit, offset int, searchText string) (PagedResult[domain.Case], error) {
	ctx, span := selectionTracer.Start(ctx, "Selection.Usecase.GetCases")
	defer span.End()

	role, err := uc.releases.GetRole(ctx, user.SubjectID, releaseKey)
	if err != nil {
		return PagedResult[domain.Case]{}, err
	}

	release, err := uc.releases.Get(ctx, releaseKey)
	if err != nil {
		return PagedResult[domain.Case]{}, err
	}

	cases, err := uc.repo.GetCaseTrees(ctx, release.DatasetURIs)
	if err != nil {
		return PagedResult[domain.Case]{}, err
	}
	cases = filterCases(cases, searchText)

	selected, err := uc.repo.GetSelectedSpecimens(ctx, releaseKey)
	if err != nil {
		return PagedResult[domain.Case]{}, err
	}

	annotateStatuses(cases, selected)

	if !role.CanViewAllCases() {
		cases = collapseToSelected(cases)
	}

	total := len(cases)
	if offset >= total {
		return PagedResult[domain.Case]{Data: []domain.Case{}, Total: total}, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return PagedResult[domain.Case]{Data: cases[offset:end], Total: total}, nil
}

// filterCases keeps the cases whose own external identifier, or that of any
// descendant patient or specimen, contains the search text. Matching is
// case-insensitive and runs before paging; a surviving case keeps its
// complete subtree so status derivation stays whole-tree.
func filterCases(cases []domain.Case, searchText string) []domain.Case {
	needle := strings.ToLower(strings.TrimSpace(searchText))
	if needle == "" {
		return cases
	}
	out := make([]domain.Case, 0, len(cases))
	for _, c := range cases {
		if caseMatches(c, needle) {
			out = append(out, c)
		}
	}
	return out
}

func caseMatches(c domain.Case, needle string) bool {
	if strings.Contains(strings.ToLower(c.ExternalID), needle) {
		return true
	}
	for _, p := range c.Patients {
		if strings.Contains(strings.ToLower(p.ExternalID), needle) {
			return true
		}
		for _, s := range p.Specimens {
			if strings.Contains(strings.ToLower(s.ExternalID), needle) {
				return true
			}
		}
	}
	return false
}

// annotateStatuses computes node status bottom-up: leaf status is a direct
// membership test against the selection set, ancestors fold over all of
// their children.
func annotateStatuses(cases []domain.Case, selected map[string]bool) {
	for ci := range cases {
		c := &cases[ci]
		patientStatuses := make([]domain.NodeStatus, 0, len(c.Patients))
		for pi := range c.Patients {
			p := &c.Patients[pi]
			specimenStatuses := make([]domain.NodeStatus, 0, len(p.Specimens))
			for si := range p.Specimens {
				s := &p.Specimens[si]
				if selected[s.ID] {
					s.NodeStatus = domain.StatusSelected
				} else {
					s.NodeStatus = domain.StatusUnselected
				}
				specimenStatuses = append(specimenStatuses, s.NodeStatus)
			}
			p.NodeStatus = domain.FoldStatuses(specimenStatuses)
			patientStatuses = append(patientStatuses, p.NodeStatus)
		}
		c.NodeStatus = domain.FoldStatuses(patientStatuses)
	}
}

// collapseToSelected implements the restricted view for members: only cases
// with a selected descendant survive, unselected subtrees are pruned, and
// every remaining node reads as selected. Relaxing this would leak which
// specimens exist but were withheld.
func collapseToSelected(cases []domain.Case) []domain.Case {
	out := make([]domain.Case, 0, len(cases))
	for _, c := range cases {
		if c.NodeStatus == domain.StatusUnselected {
			continue
		}
		kept := domain.Case{
			ID:               c.ID,
			ExternalID:       c.ExternalID,
			ExternalIDSystem: c.ExternalIDSystem,
			FromDatasetURI:   c.FromDatasetURI,
			NodeStatus:       domain.StatusSelected,
			CustomConsent:    c.CustomConsent,
		}
		for _, p := range c.Patients {
			if p.NodeStatus == domain.StatusUnselected {
				continue
			}
			keptPatient := domain.Patient{
				ID:               p.ID,
				ExternalID:       p.ExternalID,
				ExternalIDSystem: p.ExternalIDSystem,
				SexAtBirth:       p.SexAtBirth,
				NodeStatus:       domain.StatusSelected,
				CustomConsent:    p.CustomConsent,
			}
			for _, s := range p.Specimens {
				if s.NodeStatus != domain.StatusSelected {
					continue
				}
				s.NodeStatus = domain.StatusSelected
				keptPatient.Specimens = append(keptPatient.Specimens, s)
			}
			kept.Patients = append(kept.Patients, keptPatient)
		}
		out = append(out, kept)
	}
	return out
}

// SetSelected adds specimens to the selection set. Idempotent; rejected
// while the release is activated.
func (uc *SelectionUsecase) SetSelected(ctx context.Context, user domain.AuthenticatedUser, releaseKey string, specimenIDs []string) error {
	return uc.mutateSelection(ctx, user, releaseKey, specimenIDs, "select specimens", uc.repo.AddSelected)
}

// SetUnselected removes specimens from the selection set. Same constraints
// as SetSelected.
func (uc *SelectionUsecase) SetUnselected(ctx context.Context, user domain.AuthenticatedUser, releaseKey string, specimenIDs []string) error {
	return uc.mutateSelection(ctx, user, releaseKey, specimenIDs, "unselect specimens", uc.repo.RemoveSelected)
}

func (uc *SelectionUsecase) mutateSelection(ctx context.Context, user domain.AuthenticatedUser, releaseKey string, specimenIDs []string, description string, apply func(ctx context.Context, releaseKey string, ids []string) error) error {
	ctx, span := selectionTracer.Start(ctx, "Selection.Usecase.MutateSelection")
	defer span.End()

	role, err := uc.releases.GetRole(ctx, user.SubjectID, releaseKey)
	if err != nil {
		return err
	}
	if !role.CanEditSelection() {
		return domain.ErrNotAuthorised
	}

	release, err := uc.releases.Get(ctx, releaseKey)
	if err != nil {
		return err
	}
	if release.IsActivated() {
		return domain.SelectionFrozenError{ReleaseKey: releaseKey}
	}

	for _, id := range specimenIDs {
		if strings.TrimSpace(id) == "" {
			return domain.ValidationError{Message: "blank specimen id"}
		}
	}

	if len(specimenIDs) > 0 {
		resolved, err := uc.repo.ResolveSpecimenIDs(ctx, release.DatasetURIs, specimenIDs)
		if err != nil {
			return err
		}
		for _, id := range specimenIDs {
			if !resolved[id] {
				return domain.ValidationError{Message: "specimen " + id + " is not part of this release"}
			}
		}
	}

	_, err = AuditPattern(ctx, uc.audit, user, releaseKey, domain.AuditUpdate, description, func(ctx context.Context) (any, error) {
		if len(specimenIDs) == 0 {
			return map[string]int{"count": 0}, nil
		}
		if err := apply(ctx, releaseKey, specimenIDs); err != nil {
			return nil, err
		}
		return map[string]int{"count": len(specimenIDs)}, nil
	})
	return err
}

// GetNodeConsent returns the custom consent statement attached to a case,
// patient or specimen node, if any.
func (uc *SelectionUsecase) GetNodeConsent(ctx context.Context, user domain.AuthenticatedUser, releaseKey, nodeID string) (string, error) {
	if _, err := uc.releases.GetRole(ctx, user.SubjectID, releaseKey); err != nil {
		return "", err
	}
	release, err := uc.releases.Get(ctx, releaseKey)
	if err != nil {
		return "", err
	}
	return uc.repo.GetNodeConsent(ctx, release.DatasetURIs, nodeID)
}
