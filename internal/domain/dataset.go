package domain

// ArtifactType classifies the sequencing or variant files of an artifact.
type ArtifactType string

const (
	ArtifactFastq ArtifactType = "FASTQ"
	ArtifactBam   ArtifactType = "BAM"
	ArtifactCram  ArtifactType = "CRAM"
	ArtifactVcf   ArtifactType = "VCF"
	ArtifactBcl   ArtifactType = "BCL"
	ArtifactOther ArtifactType = "OTHER"
)

// IsReadData reports whether the artifact carries sequencing reads.
func (t ArtifactType) IsReadData() bool {
	return t == ArtifactFastq || t == ArtifactBam || t == ArtifactCram || t == ArtifactBcl
}

// IsVariantData reports whether the artifact carries called variants.
func (t ArtifactType) IsVariantData() bool {
	return t == ArtifactVcf
}

// ChecksumType names the algorithm of a stored checksum.
type ChecksumType string

const (
	ChecksumMD5    ChecksumType = "MD5"
	ChecksumEtag   ChecksumType = "ETAG"
	ChecksumAWSBam ChecksumType = "AWS_BAM" // provider-specific whole-object digest
)

// Checksum is a typed digest reported by the storage provider.
type Checksum struct {
	Type  ChecksumType `json:"type"`
	Value string       `json:"value"`
}

// File is a single stored object belonging to an artifact (e.g. one half of
// an R1/R2 pair, or a BAM index). Files are soft-deleted when no longer
// present at storage so manifest history stays resolvable.
type File struct {
	URL       string     `json:"url"`
	Size      int64      `json:"size"`
	Checksums []Checksum `json:"checksums"`
	Deleted   bool       `json:"deleted"`
}

// MD5 returns the MD5 checksum value if one was recorded.
func (f File) MD5() string {
	for _, c := range f.Checksums {
		if c.Type == ChecksumMD5 {
			return c.Value
		}
	}
	return ""
}

// Artifact groups the file records of one sequencing/variant product.
type Artifact struct {
	ID    string       `json:"id"`
	Type  ArtifactType `json:"type"`
	Files []File       `json:"files"`
}

// Specimen is the leaf of the selection hierarchy.
type Specimen struct {
	ID               string     `json:"id"`
	ExternalID       string     `json:"externalId"`
	ConsentStatement string     `json:"-"`
	Artifacts        []Artifact `json:"-"`
	NodeStatus       NodeStatus `json:"nodeStatus"`
	CustomConsent    bool       `json:"customConsent"`
}

// SexAtBirth is the optional recorded sex of a patient.
type SexAtBirth string

const (
	SexMale   SexAtBirth = "male"
	SexFemale SexAtBirth = "female"
	SexOther  SexAtBirth = "other"
)

type Patient struct {
	ID               string     `json:"id"`
	ExternalID       string     `json:"externalId"`
	ExternalIDSystem string     `json:"externalIdSystem"`
	SexAtBirth       SexAtBirth `json:"sexAtBirth,omitempty"`
	ConsentStatement string     `json:"-"`
	Specimens        []Specimen `json:"specimens"`
	NodeStatus       NodeStatus `json:"nodeStatus"`
	CustomConsent    bool       `json:"customConsent"`
}

type Case struct {
	ID               string     `json:"id"`
	ExternalID       string     `json:"externalId"`
	ExternalIDSystem string     `json:"externalIdSystem"`
	FromDatasetURI   string     `json:"fromDatasetUri"`
	Patients         []Patient  `json:"patients"`
	NodeStatus       NodeStatus `json:"nodeStatus"`
	CustomConsent    bool       `json:"customConsent"`
}

// Dataset is a configured collection of cases identified by a stable URI.
// Datasets are never deleted; when dropped from configuration they are only
// marked as no longer in config.
type Dataset struct {
	URI         string `json:"uri"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	InConfig    bool   `json:"inConfig"`

	CaseCount     int64 `json:"caseCount"`
	PatientCount  int64 `json:"patientCount"`
	SpecimenCount int64 `json:"specimenCount"`
}
