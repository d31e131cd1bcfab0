package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/opencurate/releasehub/internal/domain"
	"github.com/opencurate/releasehub/internal/infra/database/models"
)

type ReleaseRepository struct {
	db *gorm.DB
}

func NewReleaseRepository(db *gorm.DB) *ReleaseRepository {
	return &ReleaseRepository{db: db}
}

// NextKey allocates the next sequential release key under a row lock so two
// concurrent creations never share a key.
func (r *ReleaseRepository) NextKey(ctx context.Context, prefix string) (string, error) {
	var key string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.ReleaseCounter{ID: 1, Value: 0}).Error; err != nil {
			return err
		}

		var counter models.ReleaseCounter
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", 1).
			Take(&counter).Error; err != nil {
			return err
		}

		counter.Value++
		if err := tx.Model(&models.ReleaseCounter{}).
			Where("id = ?", 1).
			Update("value", counter.Value).Error; err != nil {
			return err
		}

		key = fmt.Sprintf("%s%03d", prefix, counter.Value)
		return nil
	})
	return key, err
}

func (r *ReleaseRepository) Create(ctx context.Context, release domain.Release, creator domain.Participant) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := releaseToModel(&release)
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		for _, uri := range release.DatasetURIs {
			if err := tx.Create(&models.ReleaseDataset{
				ReleaseKey: release.Key,
				DatasetURI: uri,
			}).Error; err != nil {
				return err
			}
		}
		if err := writeCodedSets(tx, &release); err != nil {
			return err
		}
		return tx.Create(&models.ReleaseParticipant{
			ReleaseKey:  release.Key,
			Email:       creator.Email,
			SubjectID:   creator.SubjectID,
			DisplayName: creator.DisplayName,
			Role:        string(creator.Role),
		}).Error
	})
}

func (r *ReleaseRepository) Get(ctx context.Context, releaseKey string) (*domain.Release, error) {
	return loadRelease(r.db.WithContext(ctx), releaseKey)
}

func (r *ReleaseRepository) GetAllForUser(ctx context.Context, subjectID string, limit, offset int) ([]domain.ReleaseSummary, int, error) {
	var participations []models.ReleaseParticipant
	err := r.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Find(&participations).Error
	if err != nil {
		return nil, 0, err
	}

	roleByKey := make(map[string]domain.Role, len(participations))
	keys := make([]string, 0, len(participations))
	for _, p := range participations {
		roleByKey[p.ReleaseKey] = domain.Role(p.Role)
		keys = append(keys, p.ReleaseKey)
	}
	total := len(keys)
	if total == 0 {
		return []domain.ReleaseSummary{}, 0, nil
	}

	var records []models.Release
	err = r.db.WithContext(ctx).
		Preload("Activations", "current = ?", true).
		Where("key IN ?", keys).
		Order("key DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]domain.ReleaseSummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, domain.ReleaseSummary{
			Key:                           record.Key,
			LastUpdated:                   record.LastUpdated,
			ApplicationDacIdentifierValue: record.DacIdentifierValue,
			ApplicationDacTitle:           record.DacTitle,
			IsActivated:                   len(record.Activations) > 0,
			RoleInRelease:                 roleByKey[record.Key],
		})
	}
	return summaries, total, nil
}

func (r *ReleaseRepository) GetRole(ctx context.Context, subjectID, releaseKey string) (domain.Role, error) {
	var participant models.ReleaseParticipant
	err := r.db.WithContext(ctx).
		Where("release_key = ? AND subject_id = ?", releaseKey, subjectID).
		Take(&participant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrNotAuthorised
	}
	if err != nil {
		return "", err
	}
	return domain.Role(participant.Role), nil
}

// Mutate runs fn against the release loaded under a FOR UPDATE row lock and
// persists the result inside the same transaction. Concurrent mutations of
// one release therefore serialize, so state checks inside fn cannot race.
func (r *ReleaseRepository) Mutate(ctx context.Context, releaseKey string, fn func(release *domain.Release) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.Release
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("key = ?", releaseKey).
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.NotFoundError{Resource: "release"}
		}
		if err != nil {
			return err
		}

		release, err := loadRelease(tx, releaseKey)
		if err != nil {
			return err
		}
		before := release.Activation

		if err := fn(release); err != nil {
			return err
		}

		updated := releaseToModel(release)
		// Select("*") forces zero-valued columns (cleared flags) to persist
		if err := tx.Model(&models.Release{}).
			Where("key = ?", releaseKey).
			Select("*").Omit("key").
			Updates(updated).Error; err != nil {
			return err
		}

		for _, model := range []any{
			&models.ReleaseDisease{},
			&models.ReleaseCountry{},
			&models.ReleaseHtsgetRestriction{},
		} {
			if err := tx.Delete(model, "release_key = ?", releaseKey).Error; err != nil {
				return err
			}
		}
		if err := writeCodedSets(tx, release); err != nil {
			return err
		}

		return persistActivationChange(tx, releaseKey, before, release.Activation)
	})
}

func (r *ReleaseRepository) MissingDatasets(ctx context.Context, uris []string) ([]string, error) {
	var found []string
	err := r.db.WithContext(ctx).
		Model(&models.Dataset{}).
		Where("uri IN ? AND in_config = ?", uris, true).
		Pluck("uri", &found).Error
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(found))
	for _, uri := range found {
		present[uri] = true
	}
	var missing []string
	for _, uri := range uris {
		if !present[uri] {
			missing = append(missing, uri)
		}
	}
	return missing, nil
}

func (r *ReleaseRepository) ListParticipants(ctx context.Context, releaseKey string) ([]domain.Participant, error) {
	var records []models.ReleaseParticipant
	err := r.db.WithContext(ctx).
		Where("release_key = ?", releaseKey).
		Order("email").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	participants := make([]domain.Participant, 0, len(records))
	for _, record := range records {
		participants = append(participants, domain.Participant{
			SubjectID:   record.SubjectID,
			Email:       record.Email,
			DisplayName: record.DisplayName,
			Role:        domain.Role(record.Role),
		})
	}
	return participants, nil
}

func (r *ReleaseRepository) UpsertParticipant(ctx context.Context, releaseKey string, p domain.Participant) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "release_key"}, {Name: "email"}},
		DoUpdates: clause.Assignments(map[string]any{"role": string(p.Role), "subject_id": p.SubjectID, "display_name": p.DisplayName}),
	}).Create(&models.ReleaseParticipant{
		ReleaseKey:  releaseKey,
		Email:       p.Email,
		SubjectID:   p.SubjectID,
		DisplayName: p.DisplayName,
		Role:        string(p.Role),
	}).Error
}

func (r *ReleaseRepository) RemoveParticipant(ctx context.Context, releaseKey, email string) error {
	result := r.db.WithContext(ctx).
		Delete(&models.ReleaseParticipant{}, "release_key = ? AND email = ?", releaseKey, email)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.NotFoundError{Resource: "participant"}
	}
	return nil
}

func loadRelease(db *gorm.DB, releaseKey string) (*domain.Release, error) {
	var record models.Release
	err := db.
		Preload("Datasets").
		Preload("Diseases").
		Preload("Countries").
		Preload("HtsgetRestrictions").
		Preload("Activations").
		Where("key = ?", releaseKey).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFoundError{Resource: "release"}
	}
	if err != nil {
		return nil, err
	}
	return releaseToDomain(&record), nil
}

func releaseToDomain(record *models.Release) *domain.Release {
	release := domain.Release{
		Key:                  record.Key,
		LastUpdated:          record.LastUpdated,
		LastUpdatedSubjectID: record.LastUpdatedSubjectID,

		ApplicationDacIdentifierSystem: record.DacIdentifierSystem,
		ApplicationDacIdentifierValue:  record.DacIdentifierValue,
		ApplicationDacTitle:            record.DacTitle,
		ApplicationDacDetails:          record.DacDetails,

		AllowedReadData:      record.AllowedReadData,
		AllowedVariantData:   record.AllowedVariantData,
		AllowedPhenotypeData: record.AllowedPhenotypeData,
		AllowedS3Data:        record.AllowedS3Data,
		AllowedGSData:        record.AllowedGSData,
		AllowedR2Data:        record.AllowedR2Data,

		DataSharing: domain.DataSharingConfig{
			ObjectSigningEnabled:     record.ObjectSigningEnabled,
			ObjectSigningExpiryHours: record.ObjectSigningExpiryHours,
			CopyOutEnabled:           record.CopyOutEnabled,
			CopyOutDestination:       record.CopyOutDestination,
			HtsgetEnabled:            record.HtsgetEnabled,
			AwsAccessPointEnabled:    record.AwsAccessPointEnabled,
			AwsAccessPointAccountID:  record.AwsAccessPointAccountID,
			AwsAccessPointVpcID:      record.AwsAccessPointVpcID,
			GcpStorageIamEnabled:     record.GcpStorageIamEnabled,
		},

		DownloadPassword: record.DownloadPassword,
	}

	release.ApplicationCoded.StudyType = domain.StudyType(record.StudyType)
	release.ApplicationCoded.BeaconQuery = record.BeaconQuery
	for _, d := range record.Diseases {
		release.ApplicationCoded.Diseases = append(release.ApplicationCoded.Diseases, domain.Coding{System: d.System, Code: d.Code})
	}
	for _, c := range record.Countries {
		release.ApplicationCoded.Countries = append(release.ApplicationCoded.Countries, domain.Coding{System: c.System, Code: c.Code})
	}

	if record.GcpStorageIamUsers != "" {
		// a corrupt column is treated as an empty principal list
		_ = json.Unmarshal([]byte(record.GcpStorageIamUsers), &release.DataSharing.GcpStorageIamUsers)
	}

	for _, ds := range record.Datasets {
		release.DatasetURIs = append(release.DatasetURIs, ds.DatasetURI)
	}
	sort.Strings(release.DatasetURIs)

	for _, restriction := range record.HtsgetRestrictions {
		release.HtsgetRestrictions = append(release.HtsgetRestrictions, domain.HtsgetRestriction(restriction.Restriction))
	}

	activations := record.Activations
	sort.Slice(activations, func(i, j int) bool {
		return activations[i].ActivatedAt.Before(activations[j].ActivatedAt)
	})
	for _, a := range activations {
		activation := domain.Activation{
			ActivatedBySubjectID:   a.ActivatedBySubjectID,
			ActivatedByDisplayName: a.ActivatedByDisplayName,
			ActivatedAt:            a.ActivatedAt,
		}
		if a.Current {
			current := activation
			release.Activation = &current
		} else {
			release.PastActivations = append(release.PastActivations, activation)
		}
	}

	return &release
}

func releaseToModel(release *domain.Release) models.Release {
	users := ""
	if len(release.DataSharing.GcpStorageIamUsers) > 0 {
		encoded, err := json.Marshal(release.DataSharing.GcpStorageIamUsers)
		if err == nil {
			users = string(encoded)
		}
	}

	return models.Release{
		Key:                  release.Key,
		LastUpdated:          release.LastUpdated,
		LastUpdatedSubjectID: release.LastUpdatedSubjectID,

		DacIdentifierSystem: release.ApplicationDacIdentifierSystem,
		DacIdentifierValue:  release.ApplicationDacIdentifierValue,
		DacTitle:            release.ApplicationDacTitle,
		DacDetails:          release.ApplicationDacDetails,

		StudyType:   string(release.ApplicationCoded.StudyType),
		BeaconQuery: release.ApplicationCoded.BeaconQuery,

		AllowedReadData:      release.AllowedReadData,
		AllowedVariantData:   release.AllowedVariantData,
		AllowedPhenotypeData: release.AllowedPhenotypeData,
		AllowedS3Data:        release.AllowedS3Data,
		AllowedGSData:        release.AllowedGSData,
		AllowedR2Data:        release.AllowedR2Data,

		ObjectSigningEnabled:     release.DataSharing.ObjectSigningEnabled,
		ObjectSigningExpiryHours: release.DataSharing.ObjectSigningExpiryHours,
		CopyOutEnabled:           release.DataSharing.CopyOutEnabled,
		CopyOutDestination:       release.DataSharing.CopyOutDestination,
		HtsgetEnabled:            release.DataSharing.HtsgetEnabled,
		AwsAccessPointEnabled:    release.DataSharing.AwsAccessPointEnabled,
		AwsAccessPointAccountID:  release.DataSharing.AwsAccessPointAccountID,
		AwsAccessPointVpcID:      release.DataSharing.AwsAccessPointVpcID,
		GcpStorageIamEnabled:     release.DataSharing.GcpStorageIamEnabled,
		GcpStorageIamUsers:       users,

		DownloadPassword: release.DownloadPassword,
	}
}

func writeCodedSets(tx *gorm.DB, release *domain.Release) error {
	for _, d := range release.ApplicationCoded.Diseases {
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.ReleaseDisease{
			ReleaseKey: release.Key,
			System:     d.System,
			Code:       d.Code,
		}).Error
		if err != nil {
			return err
		}
	}
	for _, c := range release.ApplicationCoded.Countries {
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.ReleaseCountry{
			ReleaseKey: release.Key,
			System:     c.System,
			Code:       c.Code,
		}).Error
		if err != nil {
			return err
		}
	}
	for _, restriction := range release.HtsgetRestrictions {
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.ReleaseHtsgetRestriction{
			ReleaseKey:  release.Key,
			Restriction: string(restriction),
		}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// persistActivationChange reconciles the activation rows with the mutated
// release. Past activations are append-only: deactivation clears the Current
// flag, never deletes the row.
func persistActivationChange(tx *gorm.DB, releaseKey string, before, after *domain.Activation) error {
	if before == nil && after != nil {
		return tx.Create(&models.ReleaseActivation{
			ReleaseKey:             releaseKey,
			Current:                true,
			ActivatedBySubjectID:   after.ActivatedBySubjectID,
			ActivatedByDisplayName: after.ActivatedByDisplayName,
			ActivatedAt:            after.ActivatedAt,
		}).Error
	}
	if before != nil && after == nil {
		return tx.Model(&models.ReleaseActivation{}).
			Where("release_key = ? AND current = ?", releaseKey, true).
			Update("current", false).Error
	}
	return nil
}
