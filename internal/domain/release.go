package domain

import "time"

// StudyType is the coded type of the data access application.
type StudyType string

const (
	StudyHMB StudyType = "HMB"
	StudyDS  StudyType = "DS"
	StudyCC  StudyType = "CC"
	StudyGRU StudyType = "GRU"
	StudyPOA StudyType = "POA"
)

// ParseStudyType validates a study type string supplied at the boundary.
func ParseStudyType(s string) (StudyType, error) {
	switch StudyType(s) {
	case StudyHMB, StudyDS, StudyCC, StudyGRU, StudyPOA:
		return StudyType(s), nil
	}
	return "", ValidationError{Message: "unknown study type " + s}
}

// Coding is a (system, code) pair from an external terminology.
type Coding struct {
	System string `json:"system"`
	Code   string `json:"code"`
}

// ApplicationCoded holds the structured fields of the DAC application.
// Diseases and countries carry set semantics: adding a pair already present
// or removing an absent one is a no-op, not an error.
type ApplicationCoded struct {
	StudyType   StudyType `json:"type"`
	Diseases    []Coding  `json:"diseases"`
	Countries   []Coding  `json:"countriesInvolved"`
	BeaconQuery string    `json:"beaconQuery,omitempty"`
}

// AddCoding inserts c into the slice if not already present.
func AddCoding(list []Coding, c Coding) []Coding {
	for _, have := range list {
		if have == c {
			return list
		}
	}
	return append(list, c)
}

// RemoveCoding removes c from the slice if present.
func RemoveCoding(list []Coding, c Coding) []Coding {
	out := list[:0]
	for _, have := range list {
		if have != c {
			out = append(out, have)
		}
	}
	return out
}

// HtsgetRestriction is a named withholding category applied to the htsget
// manifest of a release.
type HtsgetRestriction string

const (
	RestrictionCongenitalHeartDefect HtsgetRestriction = "CongenitalHeartDefect"
	RestrictionAutism                HtsgetRestriction = "Autism"
	RestrictionAchromatopsia         HtsgetRestriction = "Achromatopsia"
)

// ParseHtsgetRestriction validates a restriction name supplied at the boundary.
func ParseHtsgetRestriction(s string) (HtsgetRestriction, error) {
	switch HtsgetRestriction(s) {
	case RestrictionCongenitalHeartDefect, RestrictionAutism, RestrictionAchromatopsia:
		return HtsgetRestriction(s), nil
	}
	return "", ValidationError{Message: "unknown htsget restriction " + s}
}

// DataSharingConfig is the per-release configuration of sharing mechanisms.
// Each mechanism is additionally gated by deployment configuration; both
// gates must be open for the mechanism to operate.
type DataSharingConfig struct {
	ObjectSigningEnabled     bool     `json:"objectSigningEnabled"`
	ObjectSigningExpiryHours int      `json:"objectSigningExpiryHours"`
	CopyOutEnabled           bool     `json:"copyOutEnabled"`
	CopyOutDestination       string   `json:"copyOutDestinationLocation"`
	HtsgetEnabled            bool     `json:"htsgetEnabled"`
	AwsAccessPointEnabled    bool     `json:"awsAccessPointEnabled"`
	AwsAccessPointAccountID  string   `json:"awsAccessPointAccountId"`
	AwsAccessPointVpcID      string   `json:"awsAccessPointVpcId"`
	GcpStorageIamEnabled     bool     `json:"gcpStorageIamEnabled"`
	GcpStorageIamUsers       []string `json:"gcpStorageIamUsers"`
}

// Activation records one grant of live data sharing on a release.
type Activation struct {
	ActivatedBySubjectID   string    `json:"-"`
	ActivatedByDisplayName string    `json:"activatedByDisplayName"`
	ActivatedAt            time.Time `json:"activatedAt"`
}

// Release is a grant of data access approved by a Data Access Committee.
// At most one current activation exists at any time; superseded activations
// move to the append-only PastActivations history.
type Release struct {
	Key string `json:"releaseKey"`

	LastUpdated          time.Time `json:"lastUpdatedDateTime"`
	LastUpdatedSubjectID string    `json:"lastUpdatedUserSubjectId"`

	ApplicationDacIdentifierSystem string `json:"applicationDacIdentifierSystem"`
	ApplicationDacIdentifierValue  string `json:"applicationDacIdentifierValue"`
	ApplicationDacTitle            string `json:"applicationDacTitle"`
	ApplicationDacDetails          string `json:"applicationDacDetails"`

	DatasetURIs []string `json:"datasetUris"`

	ApplicationCoded ApplicationCoded `json:"applicationCoded"`

	// which categories of data may be shared, by type
	AllowedReadData      bool `json:"isAllowedReadData"`
	AllowedVariantData   bool `json:"isAllowedVariantData"`
	AllowedPhenotypeData bool `json:"isAllowedPhenotypeData"`

	// and by storage location
	AllowedS3Data bool `json:"isAllowedS3Data"`
	AllowedGSData bool `json:"isAllowedGSData"`
	AllowedR2Data bool `json:"isAllowedR2Data"`

	DataSharing DataSharingConfig `json:"dataSharingConfiguration"`

	HtsgetRestrictions []HtsgetRestriction `json:"htsgetRestrictions"`

	DownloadPassword string `json:"-"`

	Activation      *Activation  `json:"activation,omitempty"`
	PastActivations []Activation `json:"-"`
}

// IsActivated reports whether the release currently permits sharing.
func (r *Release) IsActivated() bool {
	return r.Activation != nil
}

// Touch records who changed the release and when. Every mutation path calls
// it so LastUpdated always advances together with the attribution.
func (r *Release) Touch(subjectID string) {
	r.LastUpdatedSubjectID = subjectID
	r.LastUpdated = time.Now().UTC()
}

// AllowsArtifactType applies the by-type allow flags to an artifact.
func (r *Release) AllowsArtifactType(t ArtifactType) bool {
	switch {
	case t.IsReadData():
		return r.AllowedReadData
	case t.IsVariantData():
		return r.AllowedVariantData
	default:
		return false
	}
}

// AllowsProtocol applies the by-location allow flags to a storage protocol.
func (r *Release) AllowsProtocol(p Protocol) bool {
	switch p {
	case ProtocolS3:
		return r.AllowedS3Data
	case ProtocolGS:
		return r.AllowedGSData
	case ProtocolR2:
		return r.AllowedR2Data
	default:
		return false
	}
}

// ReleaseSummary is the list-view projection of a release together with the
// caller's role in it.
type ReleaseSummary struct {
	Key                           string    `json:"releaseKey"`
	LastUpdated                   time.Time `json:"lastUpdatedDateTime"`
	ApplicationDacIdentifierValue string    `json:"applicationDacIdentifierValue"`
	ApplicationDacTitle           string    `json:"applicationDacTitle"`
	IsActivated                   bool      `json:"isActivated"`
	RoleInRelease                 Role      `json:"roleInRelease"`
}

// ManualReleaseInput carries the DAC-equivalent fields for a release created
// by hand rather than imported from a DAC.
type ManualReleaseInput struct {
	Title                   string   `json:"releaseTitle"`
	Description             string   `json:"releaseDescription"`
	StudyType               string   `json:"studyType"`
	DatasetURIs             []string `json:"datasetUris"`
	ApplicantEmailAddresses string   `json:"applicantEmailAddresses"`
}
