package schema

import (
	"errors"

	"credanchor/internal/credential/models"
)

// document is the typed form of a payload, used for rules a JSON schema cannot express.
type document interface {
	check() error
}

// attachment commits to a supporting document uploaded alongside the payload.
type attachment struct {
	Address   string `mapstructure:"address"`
	SHA256    string `mapstructure:"sha256"`
	MediaType string `mapstructure:"media_type"`
}

type educationV1 struct {
	Institution    string         `mapstructure:"institution"`
	Degree         string         `mapstructure:"degree"`
	FieldOfStudy   string         `mapstructure:"field_of_study"`
	GraduationYear int            `mapstructure:"graduation_year"`
	GPA            float64        `mapstructure:"gpa"`
	Honors         string         `mapstructure:"honors"`
	Extensions     map[string]any `mapstructure:"extensions"`
	Document       *attachment    `mapstructure:"document"`
}

func (educationV1) check() error { return nil }

type professionalV1 struct {
	Title           string         `mapstructure:"title"`
	Organization    string         `mapstructure:"organization"`
	Level           int            `mapstructure:"level"`
	YearsExperience int            `mapstructure:"years_experience"`
	Extensions      map[string]any `mapstructure:"extensions"`
	Document        *attachment    `mapstructure:"document"`
}

func (professionalV1) check() error { return nil }

type skillV1 struct {
	Name         string         `mapstructure:"name"`
	Proficiency  int            `mapstructure:"proficiency"`
	AssessedBy   string         `mapstructure:"assessed_by"`
	AssessedYear int            `mapstructure:"assessed_year"`
	Extensions   map[string]any `mapstructure:"extensions"`
	Document     *attachment    `mapstructure:"document"`
}

func (skillV1) check() error { return nil }

type identityV1 struct {
	GivenName    string         `mapstructure:"given_name"`
	FamilyName   string         `mapstructure:"family_name"`
	BirthYear    int            `mapstructure:"birth_year"`
	Nationality  string         `mapstructure:"nationality"`
	DocumentType string         `mapstructure:"document_type"`
	Extensions   map[string]any `mapstructure:"extensions"`
	Document     *attachment    `mapstructure:"document"`
}

func (identityV1) check() error { return nil }

type workExperienceV1 struct {
	Employer   string         `mapstructure:"employer"`
	Role       string         `mapstructure:"role"`
	StartYear  int            `mapstructure:"start_year"`
	EndYear    int            `mapstructure:"end_year"`
	Years      int            `mapstructure:"years"`
	Extensions map[string]any `mapstructure:"extensions"`
	Document   *attachment    `mapstructure:"document"`
}

func (w workExperienceV1) check() error {
	if w.EndYear != 0 && w.EndYear < w.StartYear {
		return errors.New("end_year must not be before start_year")
	}
	return nil
}

type certificationV1 struct {
	Name       string         `mapstructure:"name"`
	Authority  string         `mapstructure:"authority"`
	Score      int            `mapstructure:"score"`
	IssuedYear int            `mapstructure:"issued_year"`
	Extensions map[string]any `mapstructure:"extensions"`
	Document   *attachment    `mapstructure:"document"`
}

func (certificationV1) check() error { return nil }

type licenseV1 struct {
	LicenseNumber string         `mapstructure:"license_number"`
	Authority     string         `mapstructure:"authority"`
	LicenseClass  string         `mapstructure:"license_class"`
	ValidFromYear int            `mapstructure:"valid_from_year"`
	Extensions    map[string]any `mapstructure:"extensions"`
	Document      *attachment    `mapstructure:"document"`
}

func (licenseV1) check() error { return nil }

// newDocument returns an empty typed document for a type and version.
func newDocument(t models.CredentialType, version string) (document, bool) {
	if version != "v1" {
		return nil, false
	}
	switch t {
	case models.CredentialTypeEducation:
		return &educationV1{}, true
	case models.CredentialTypeProfessional:
		return &professionalV1{}, true
	case models.CredentialTypeSkill:
		return &skillV1{}, true
	case models.CredentialTypeIdentity:
		return &identityV1{}, true
	case models.CredentialTypeWorkExperience:
		return &workExperienceV1{}, true
	case models.CredentialTypeCertification:
		return &certificationV1{}, true
	case models.CredentialTypeLicense:
		return &licenseV1{}, true
	}
	return nil, false
}
