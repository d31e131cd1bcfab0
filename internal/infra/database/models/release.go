package models

import (
	"time"
)

type Release struct {
	Key string `json:"releaseKey" gorm:"primaryKey;type:text"`

	LastUpdated          time.Time `json:"lastUpdated" gorm:"type:timestamp with time zone;not null;default:clock_timestamp()"`
	LastUpdatedSubjectID string    `json:"lastUpdatedSubjectId" gorm:"type:text"`

	DacIdentifierSystem string `json:"dacIdentifierSystem" gorm:"type:text"`
	DacIdentifierValue  string `json:"dacIdentifierValue" gorm:"type:text"`
	DacTitle            string `json:"dacTitle" gorm:"type:text"`
	DacDetails          string `json:"dacDetails" gorm:"type:text"`

	StudyType   string `json:"studyType" gorm:"type:text"`
	BeaconQuery string `json:"beaconQuery" gorm:"type:text"`

	AllowedReadData      bool `json:"allowedReadData" gorm:"type:boolean;not null;default:false"`
	AllowedVariantData   bool `json:"allowedVariantData" gorm:"type:boolean;not null;default:false"`
	AllowedPhenotypeData bool `json:"allowedPhenotypeData" gorm:"type:boolean;not null;default:false"`
	AllowedS3Data        bool `json:"allowedS3Data" gorm:"type:boolean;not null;default:false"`
	AllowedGSData        bool `json:"allowedGSData" gorm:"type:boolean;not null;default:false"`
	AllowedR2Data        bool `json:"allowedR2Data" gorm:"type:boolean;not null;default:false"`

	ObjectSigningEnabled     bool   `json:"objectSigningEnabled" gorm:"type:boolean;not null;default:false"`
	ObjectSigningExpiryHours int    `json:"objectSigningExpiryHours" gorm:"not null;default:0"`
	CopyOutEnabled           bool   `json:"copyOutEnabled" gorm:"type:boolean;not null;default:false"`
	CopyOutDestination       string `json:"copyOutDestination" gorm:"type:text"`
	HtsgetEnabled            bool   `json:"htsgetEnabled" gorm:"type:boolean;not null;default:false"`
	AwsAccessPointEnabled    bool   `json:"awsAccessPointEnabled" gorm:"type:boolean;not null;default:false"`
	AwsAccessPointAccountID  string `json:"awsAccessPointAccountId" gorm:"type:text"`
	AwsAccessPointVpcID      string `json:"awsAccessPointVpcId" gorm:"type:text"`
	GcpStorageIamEnabled     bool   `json:"gcpStorageIamEnabled" gorm:"type:boolean;not null;default:false"`

	// JSON-encoded list of principals, mutated only as a whole
	GcpStorageIamUsers string `json:"gcpStorageIamUsers" gorm:"type:text"`

	DownloadPassword string `json:"-" gorm:"type:text"`

	Datasets           []ReleaseDataset           `json:"datasets" gorm:"foreignKey:ReleaseKey"`
	Diseases           []ReleaseDisease           `json:"diseases" gorm:"foreignKey:ReleaseKey"`
	Countries          []ReleaseCountry           `json:"countries" gorm:"foreignKey:ReleaseKey"`
	HtsgetRestrictions []ReleaseHtsgetRestriction `json:"htsgetRestrictions" gorm:"foreignKey:ReleaseKey"`
	Activations        []ReleaseActivation        `json:"activations" gorm:"foreignKey:ReleaseKey"`
}

type ReleaseDataset struct {
	ReleaseKey string  `json:"releaseKey" gorm:"type:text;primaryKey"`
	Release    Release `json:"-" gorm:"foreignKey:ReleaseKey;references:Key;constraint:OnDelete:CASCADE;"`
	DatasetURI string  `json:"datasetUri" gorm:"type:text;primaryKey"`
}

// ReleaseSelection marks one specimen as selected for a release. The
// composite primary key makes reapplying a selection a natural no-op.
type ReleaseSelection struct {
	ReleaseKey string  `json:"releaseKey" gorm:"type:text;primaryKey"`
	Release    Release `json:"-" gorm:"foreignKey:ReleaseKey;references:Key;constraint:OnDelete:CASCADE;"`
	SpecimenID string  `json:"specimenId" gorm:"type:text;primaryKey;index"`
}

type ReleaseDisease struct {
	ReleaseKey string  `json:"releaseKey" gorm:"type:text;primaryKey"`
	Release    Release `json:"-" gorm:"foreignKey:ReleaseKey;references:Key;constraint:OnDelete:CASCADE;"`
	System     string  `json:"system" gorm:"type:text;primaryKey"`
	Code       string  `json:"code" gorm:"type:text;primaryKey"`
}

type ReleaseCountry struct {
	ReleaseKey string  `json:"releaseKey" gorm:"type:text;primaryKey"`
	Release    Release `json:"-" gorm:"foreignKey:ReleaseKey;references:Key;constraint:OnDelete:CASCADE;"`
	System     string  `json:"system" gorm:"type:text;primaryKey"`
	Code       string  `json:"code" gorm:"type:text;primaryKey"`
}

type ReleaseHtsgetRestriction struct {
	ReleaseKey  string  `json:"releaseKey" gorm:"type:text;primaryKey"`
	Release     Release `json:"-" gorm:"foreignKey:ReleaseKey;references:Key;constraint:OnDelete:CASCADE;"`
	Restriction string  `json:"restriction" gorm:"type:text;primaryKey"`
}

// ReleaseActivation keeps every activation ever granted. At most one row per
// release has Current set; deactivation clears the flag instead of deleting.
type ReleaseActivation struct {
	ID                     int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	ReleaseKey             string    `json:"releaseKey" gorm:"type:text;index"`
	Release                Release   `json:"-" gorm:"foreignKey:ReleaseKey;references:Key;constraint:OnDelete:CASCADE;"`
	Current                bool      `json:"current" gorm:"type:boolean;not null;default:false;index"`
	ActivatedBySubjectID   string    `json:"activatedBySubjectId" gorm:"type:text"`
	ActivatedByDisplayName string    `json:"activatedByDisplayName" gorm:"type:text"`
	ActivatedAt            time.Time `json:"activatedAt" gorm:"type:timestamp with time zone;not null;default:clock_timestamp()"`
}

type ReleaseParticipant struct {
	ReleaseKey  string  `json:"releaseKey" gorm:"type:text;primaryKey"`
	Release     Release `json:"-" gorm:"foreignKey:ReleaseKey;references:Key;constraint:OnDelete:CASCADE;"`
	Email       string  `json:"email" gorm:"type:text;primaryKey"`
	SubjectID   string  `json:"subjectId" gorm:"type:text;index"`
	DisplayName string  `json:"displayName" gorm:"type:text"`
	Role        string  `json:"role" gorm:"type:text"`
}

// ReleaseCounter is a single-row table backing sequential key allocation.
// It is read and bumped under a row lock so two creations never share a key.
type ReleaseCounter struct {
	ID    int   `json:"id" gorm:"primaryKey"`
	Value int64 `json:"value" gorm:"type:bigint;not null;default:0"`
}
