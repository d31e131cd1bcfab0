package domain

// PatchCommand is the closed set of single-field release mutations. Each
// allowed patch path is one concrete variant, so an unknown path cannot be
// constructed inside the core; only the HTTP boundary deals in path strings.
// Exactly one command is applied per call.
type PatchCommand interface {
	// Description labels the mutation for audit records.
	Description() string

	isPatchCommand()
}

type AddDisease struct{ Coding Coding }
type RemoveDisease struct{ Coding Coding }
type AddCountry struct{ Coding Coding }
type RemoveCountry struct{ Coding Coding }
type SetStudyType struct{ StudyType StudyType }
type SetBeaconQuery struct{ Query string }

// AllowFlag names one of the by-type/by-location allow booleans.
type AllowFlag string

const (
	AllowReadData      AllowFlag = "isAllowedReadData"
	AllowVariantData   AllowFlag = "isAllowedVariantData"
	AllowPhenotypeData AllowFlag = "isAllowedPhenotypeData"
	AllowS3Data        AllowFlag = "isAllowedS3Data"
	AllowGSData        AllowFlag = "isAllowedGSData"
	AllowR2Data        AllowFlag = "isAllowedR2Data"
)

type SetAllowed struct {
	Flag  AllowFlag
	Value bool
}

type SetObjectSigningEnabled struct{ Value bool }
type SetObjectSigningExpiryHours struct{ Value int }
type SetCopyOutEnabled struct{ Value bool }
type SetCopyOutDestination struct{ Value string }
type SetHtsgetEnabled struct{ Value bool }
type SetAwsAccessPointEnabled struct{ Value bool }
type SetAwsAccessPointAccountID struct{ Value string }
type SetAwsAccessPointVpcID struct{ Value string }
type SetGcpStorageIamEnabled struct{ Value bool }
type SetGcpStorageIamUsers struct{ Value []string }

func (AddDisease) isPatchCommand()                  {}
func (RemoveDisease) isPatchCommand()               {}
func (AddCountry) isPatchCommand()                  {}
func (RemoveCountry) isPatchCommand()               {}
func (SetStudyType) isPatchCommand()                {}
func (SetBeaconQuery) isPatchCommand()              {}
func (SetAllowed) isPatchCommand()                  {}
func (SetObjectSigningEnabled) isPatchCommand()     {}
func (SetObjectSigningExpiryHours) isPatchCommand() {}
func (SetCopyOutEnabled) isPatchCommand()           {}
func (SetCopyOutDestination) isPatchCommand()       {}
func (SetHtsgetEnabled) isPatchCommand()            {}
func (SetAwsAccessPointEnabled) isPatchCommand()    {}
func (SetAwsAccessPointAccountID) isPatchCommand()  {}
func (SetAwsAccessPointVpcID) isPatchCommand()      {}
func (SetGcpStorageIamEnabled) isPatchCommand()     {}
func (SetGcpStorageIamUsers) isPatchCommand()       {}

func (c AddDisease) Description() string    { return "add disease to application coding" }
func (c RemoveDisease) Description() string { return "remove disease from application coding" }
func (c AddCountry) Description() string    { return "add country to application coding" }
func (c RemoveCountry) Description() string { return "remove country from application coding" }
func (c SetStudyType) Description() string  { return "set study type" }
func (c SetBeaconQuery) Description() string { return "set beacon query" }
func (c SetAllowed) Description() string    { return "set allow flag " + string(c.Flag) }
func (c SetObjectSigningEnabled) Description() string {
	return "set data sharing object signing enabled"
}
func (c SetObjectSigningExpiryHours) Description() string {
	return "set data sharing object signing expiry"
}
func (c SetCopyOutEnabled) Description() string     { return "set data sharing copy out enabled" }
func (c SetCopyOutDestination) Description() string { return "set data sharing copy out destination" }
func (c SetHtsgetEnabled) Description() string      { return "set data sharing htsget enabled" }
func (c SetAwsAccessPointEnabled) Description() string {
	return "set data sharing aws access point enabled"
}
func (c SetAwsAccessPointAccountID) Description() string {
	return "set data sharing aws access point account"
}
func (c SetAwsAccessPointVpcID) Description() string {
	return "set data sharing aws access point vpc"
}
func (c SetGcpStorageIamEnabled) Description() string {
	return "set data sharing gcp storage iam enabled"
}
func (c SetGcpStorageIamUsers) Description() string { return "set data sharing gcp storage iam users" }
