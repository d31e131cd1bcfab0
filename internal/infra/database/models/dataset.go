package models

// Dataset rows are never deleted. Dropping a dataset from deployment
// configuration only clears InConfig so older releases stay resolvable.
type Dataset struct {
	URI         string `json:"uri" gorm:"primaryKey;type:text"`
	DisplayName string `json:"displayName" gorm:"type:text"`
	Description string `json:"description" gorm:"type:text"`
	InConfig    bool   `json:"inConfig" gorm:"type:boolean;not null;default:true"`
}

type Case struct {
	ID               string  `json:"id" gorm:"primaryKey;type:text"`
	DatasetURI       string  `json:"datasetUri" gorm:"type:text;index"`
	Dataset          Dataset `json:"-" gorm:"foreignKey:DatasetURI;references:URI;constraint:OnDelete:CASCADE;"`
	ExternalID       string  `json:"externalId" gorm:"type:text;index"`
	ExternalIDSystem string  `json:"externalIdSystem" gorm:"type:text"`
	ConsentStatement string  `json:"consentStatement" gorm:"type:text"`

	Patients []Patient `json:"patients" gorm:"foreignKey:CaseID"`
}

type Patient struct {
	ID               string `json:"id" gorm:"primaryKey;type:text"`
	CaseID           string `json:"caseId" gorm:"type:text;index"`
	Case             Case   `json:"-" gorm:"foreignKey:CaseID;references:ID;constraint:OnDelete:CASCADE;"`
	ExternalID       string `json:"externalId" gorm:"type:text;index"`
	ExternalIDSystem string `json:"externalIdSystem" gorm:"type:text"`
	SexAtBirth       string `json:"sexAtBirth" gorm:"type:text"`
	ConsentStatement string `json:"consentStatement" gorm:"type:text"`

	Specimens  []Specimen         `json:"specimens" gorm:"foreignKey:PatientID"`
	Phenotypes []PatientPhenotype `json:"phenotypes" gorm:"foreignKey:PatientID"`
}

// PatientPhenotype is one coded phenotype observation on a patient.
type PatientPhenotype struct {
	PatientID string `json:"patientId" gorm:"type:text;primaryKey"`
	Code      string `json:"code" gorm:"type:text;primaryKey"`
}

type Specimen struct {
	ID               string  `json:"id" gorm:"primaryKey;type:text"`
	PatientID        string  `json:"patientId" gorm:"type:text;index"`
	Patient          Patient `json:"-" gorm:"foreignKey:PatientID;references:ID;constraint:OnDelete:CASCADE;"`
	ExternalID       string  `json:"externalId" gorm:"type:text;index"`
	ConsentStatement string  `json:"consentStatement" gorm:"type:text"`

	Artifacts []Artifact `json:"artifacts" gorm:"foreignKey:SpecimenID"`
}

type Artifact struct {
	ID         string   `json:"id" gorm:"primaryKey;type:text"`
	SpecimenID string   `json:"specimenId" gorm:"type:text;index"`
	Specimen   Specimen `json:"-" gorm:"foreignKey:SpecimenID;references:ID;constraint:OnDelete:CASCADE;"`
	Type       string   `json:"type" gorm:"type:text"`

	Files []File `json:"files" gorm:"foreignKey:ArtifactID"`
}

// File rows are soft deleted. Deleted objects stay on record so past
// manifests remain explainable, but are excluded from every new manifest.
type File struct {
	ID         int64    `json:"id" gorm:"primaryKey;autoIncrement"`
	ArtifactID string   `json:"artifactId" gorm:"type:text;index"`
	Artifact   Artifact `json:"-" gorm:"foreignKey:ArtifactID;references:ID;constraint:OnDelete:CASCADE;"`
	URL        string   `json:"url" gorm:"type:text;index:file_url,unique"`
	Size       int64    `json:"size" gorm:"type:bigint;not null;default:0"`
	Deleted    bool     `json:"deleted" gorm:"type:boolean;not null;default:false;index"`

	Checksums []FileChecksum `json:"checksums" gorm:"foreignKey:FileID"`
}

type FileChecksum struct {
	FileID int64  `json:"fileId" gorm:"primaryKey"`
	File   File   `json:"-" gorm:"foreignKey:FileID;references:ID;constraint:OnDelete:CASCADE;"`
	Type   string `json:"type" gorm:"type:text;primaryKey"`
	Value  string `json:"value" gorm:"type:text"`
}
