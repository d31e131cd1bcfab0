package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/opencurate/releasehub/internal/domain"
	"github.com/opencurate/releasehub/internal/infra/database/models"
	"github.com/opencurate/releasehub/internal/usecase"
)

// DatasetRepository serves dataset summaries and the selection tree queries
// layered over them.
type DatasetRepository struct {
	db *gorm.DB
}

func NewDatasetRepository(db *gorm.DB) *DatasetRepository {
	return &DatasetRepository{db: db}
}

func (r *DatasetRepository) GetAll(ctx context.Context, limit, offset int) ([]domain.Dataset, int, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Dataset{}).
		Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	var records []models.Dataset
	err = r.db.WithContext(ctx).
		Order("uri").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}

	datasets := make([]domain.Dataset, 0, len(records))
	for _, record := range records {
		dataset, err := r.summarize(ctx, &record)
		if err != nil {
			return nil, 0, err
		}
		datasets = append(datasets, dataset)
	}
	return datasets, int(total), nil
}

func (r *DatasetRepository) Get(ctx context.Context, uri string) (*domain.Dataset, error) {
	var record models.Dataset
	err := r.db.WithContext(ctx).
		Where("uri = ?", uri).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFoundError{Resource: "dataset"}
	}
	if err != nil {
		return nil, err
	}

	dataset, err := r.summarize(ctx, &record)
	if err != nil {
		return nil, err
	}
	return &dataset, nil
}

func (r *DatasetRepository) summarize(ctx context.Context, record *models.Dataset) (domain.Dataset, error) {
	dataset := domain.Dataset{
		URI:         record.URI,
		DisplayName: record.DisplayName,
		Description: record.Description,
		InConfig:    record.InConfig,
	}

	err := r.db.WithContext(ctx).
		Model(&models.Case{}).
		Where("dataset_uri = ?", record.URI).
		Count(&dataset.CaseCount).Error
	if err != nil {
		return domain.Dataset{}, err
	}

	err = r.db.WithContext(ctx).
		Model(&models.Patient{}).
		Joins("JOIN cases ON cases.id = patients.case_id").
		Where("cases.dataset_uri = ?", record.URI).
		Count(&dataset.PatientCount).Error
	if err != nil {
		return domain.Dataset{}, err
	}

	err = r.db.WithContext(ctx).
		Model(&models.Specimen{}).
		Joins("JOIN patients ON patients.id = specimens.patient_id").
		Joins("JOIN cases ON cases.id = patients.case_id").
		Where("cases.dataset_uri = ?", record.URI).
		Count(&dataset.SpecimenCount).Error
	if err != nil {
		return domain.Dataset{}, err
	}

	return dataset, nil
}

// SelectionRepository serves the case forests and the selected-specimen set
// of a release. Case subtrees always come back whole, so status derivation
// upstream never depends on which page is being viewed.
type SelectionRepository struct {
	db *gorm.DB
}

func NewSelectionRepository(db *gorm.DB) *SelectionRepository {
	return &SelectionRepository{db: db}
}

func (r *SelectionRepository) GetCaseTrees(ctx context.Context, datasetURIs []string) ([]domain.Case, error) {
	query := r.db.WithContext(ctx).
		Preload("Patients", func(db *gorm.DB) *gorm.DB { return db.Order("patients.external_id") }).
		Preload("Patients.Specimens", func(db *gorm.DB) *gorm.DB { return db.Order("specimens.external_id") }).
		Where("dataset_uri IN ?", datasetURIs).
		Order("cases.external_id")

	var records []models.Case
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}

	cases := make([]domain.Case, 0, len(records))
	for _, record := range records {
		cases = append(cases, caseToDomain(&record))
	}
	return cases, nil
}

func (r *SelectionRepository) GetSelectedSpecimens(ctx context.Context, releaseKey string) (map[string]bool, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.ReleaseSelection{}).
		Where("release_key = ?", releaseKey).
		Pluck("specimen_id", &ids).Error
	if err != nil {
		return nil, err
	}

	selected := make(map[string]bool, len(ids))
	for _, id := range ids {
		selected[id] = true
	}
	return selected, nil
}

// ResolveSpecimenIDs returns which of the given IDs are specimens belonging
// to one of the given datasets. IDs outside the release's dataset scope
// simply do not resolve.
func (r *SelectionRepository) ResolveSpecimenIDs(ctx context.Context, datasetURIs []string, specimenIDs []string) (map[string]bool, error) {
	if len(specimenIDs) == 0 {
		return map[string]bool{}, nil
	}

	var found []string
	err := r.db.WithContext(ctx).
		Model(&models.Specimen{}).
		Joins("JOIN patients ON patients.id = specimens.patient_id").
		Joins("JOIN cases ON cases.id = patients.case_id").
		Where("cases.dataset_uri IN ? AND specimens.id IN ?", datasetURIs, specimenIDs).
		Pluck("specimens.id", &found).Error
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]bool, len(found))
	for _, id := range found {
		resolved[id] = true
	}
	return resolved, nil
}

func (r *SelectionRepository) AddSelected(ctx context.Context, releaseKey string, specimenIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range specimenIDs {
			err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&models.ReleaseSelection{
					ReleaseKey: releaseKey,
					SpecimenID: id,
				}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *SelectionRepository) RemoveSelected(ctx context.Context, releaseKey string, specimenIDs []string) error {
	if len(specimenIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Delete(&models.ReleaseSelection{}, "release_key = ? AND specimen_id IN ?", releaseKey, specimenIDs).Error
}

// GetNodeConsent resolves the consent statement recorded at a single node,
// whichever level of the hierarchy it sits at.
func (r *SelectionRepository) GetNodeConsent(ctx context.Context, datasetURIs []string, nodeID string) (string, error) {
	var specimen models.Specimen
	err := r.db.WithContext(ctx).
		Joins("JOIN patients ON patients.id = specimens.patient_id").
		Joins("JOIN cases ON cases.id = patients.case_id").
		Where("cases.dataset_uri IN ? AND specimens.id = ?", datasetURIs, nodeID).
		Take(&specimen).Error
	if err == nil {
		return specimen.ConsentStatement, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	var patient models.Patient
	err = r.db.WithContext(ctx).
		Joins("JOIN cases ON cases.id = patients.case_id").
		Where("cases.dataset_uri IN ? AND patients.id = ?", datasetURIs, nodeID).
		Take(&patient).Error
	if err == nil {
		return patient.ConsentStatement, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	var caseRecord models.Case
	err = r.db.WithContext(ctx).
		Where("dataset_uri IN ? AND id = ?", datasetURIs, nodeID).
		Take(&caseRecord).Error
	if err == nil {
		return caseRecord.ConsentStatement, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.NotFoundError{Resource: "node"}
	}
	return "", err
}

// ManifestRepository answers the flattened artifact query behind manifest
// building.
type ManifestRepository struct {
	db *gorm.DB
}

func NewManifestRepository(db *gorm.DB) *ManifestRepository {
	return &ManifestRepository{db: db}
}

type selectedArtifactRow struct {
	CaseID     string
	PatientID  string
	SpecimenID string
	ArtifactID string
	Type       string
	URL        string
	Size       int64
	MD5        string
}

// GetSelectedArtifacts joins every non-deleted file reachable from a selected
// specimen of the release. Deleted files never appear.
func (r *ManifestRepository) GetSelectedArtifacts(ctx context.Context, releaseKey string) ([]usecase.ArtifactRecord, error) {
	var rows []selectedArtifactRow
	err := r.db.WithContext(ctx).
		Model(&models.File{}).
		Select(`cases.id AS case_id,
			patients.id AS patient_id,
			specimens.id AS specimen_id,
			artifacts.id AS artifact_id,
			artifacts.type AS type,
			files.url AS url,
			files.size AS size,
			COALESCE(md5s.value, '') AS md5`).
		Joins("JOIN artifacts ON artifacts.id = files.artifact_id").
		Joins("JOIN specimens ON specimens.id = artifacts.specimen_id").
		Joins("JOIN patients ON patients.id = specimens.patient_id").
		Joins("JOIN cases ON cases.id = patients.case_id").
		Joins("JOIN release_selections ON release_selections.specimen_id = specimens.id").
		Joins("LEFT JOIN file_checksums md5s ON md5s.file_id = files.id AND md5s.type = ?", "MD5").
		Where("release_selections.release_key = ? AND files.deleted = ?", releaseKey, false).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	patientIDs := make([]string, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if !seen[row.PatientID] {
			seen[row.PatientID] = true
			patientIDs = append(patientIDs, row.PatientID)
		}
	}

	phenotypes := make(map[string][]string, len(patientIDs))
	if len(patientIDs) > 0 {
		var codes []models.PatientPhenotype
		err = r.db.WithContext(ctx).
			Where("patient_id IN ?", patientIDs).
			Find(&codes).Error
		if err != nil {
			return nil, err
		}
		for _, code := range codes {
			phenotypes[code.PatientID] = append(phenotypes[code.PatientID], code.Code)
		}
	}

	records := make([]usecase.ArtifactRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, usecase.ArtifactRecord{
			CaseID:            row.CaseID,
			PatientID:         row.PatientID,
			SpecimenID:        row.SpecimenID,
			ArtifactID:        row.ArtifactID,
			Type:              domain.ArtifactType(row.Type),
			URL:               row.URL,
			Size:              row.Size,
			MD5:               row.MD5,
			PatientPhenotypes: phenotypes[row.PatientID],
		})
	}
	return records, nil
}

func caseToDomain(record *models.Case) domain.Case {
	result := domain.Case{
		ID:               record.ID,
		ExternalID:       record.ExternalID,
		ExternalIDSystem: record.ExternalIDSystem,
		FromDatasetURI:   record.DatasetURI,
		CustomConsent:    record.ConsentStatement != "",
	}
	for _, patient := range record.Patients {
		p := domain.Patient{
			ID:               patient.ID,
			ExternalID:       patient.ExternalID,
			ExternalIDSystem: patient.ExternalIDSystem,
			SexAtBirth:       domain.SexAtBirth(patient.SexAtBirth),
			ConsentStatement: patient.ConsentStatement,
			CustomConsent:    patient.ConsentStatement != "",
		}
		for _, specimen := range patient.Specimens {
			p.Specimens = append(p.Specimens, domain.Specimen{
				ID:               specimen.ID,
				ExternalID:       specimen.ExternalID,
				ConsentStatement: specimen.ConsentStatement,
				CustomConsent:    specimen.ConsentStatement != "",
			})
		}
		result.Patients = append(result.Patients, p)
	}
	return result
}
