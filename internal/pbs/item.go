// Package pbs provides the data model and lookup client for the
// Pharmaceutical Benefits Scheme public data API.
package pbs

import (
	"fmt"
	"strings"
)

// Benefit type codes as published by the PBS data API.
const (
	BenefitTypeStreamlined  = "S"
	BenefitTypeAuthority    = "A"
	BenefitTypeUnrestricted = "U"
	BenefitTypeRestricted   = "R"
)

// AuthorityType is the approval pathway required to prescribe an item.
type AuthorityType string

const (
	AuthorityStreamlined AuthorityType = "streamlined"
	AuthorityPhone       AuthorityType = "phone"
	AuthorityNone        AuthorityType = "none"
)

// Item represents a single PBS scheme item as listed on a schedule.
type Item struct {
	Code            string `json:"pbs_code"`
	ScheduleCode    int    `json:"schedule_code"`
	DrugName        string `json:"li_drug_name"`
	BrandName       string `json:"brand_name,omitempty"`
	ScheduleForm    string `json:"schedule_form,omitempty"`
	ProgramCode     string `json:"program_code,omitempty"`
	BenefitTypeCode string `json:"benefit_type_code"`
	MaximumQuantity int    `json:"maximum_quantity_units,omitempty"`
	NumberOfRepeats int    `json:"number_of_repeats,omitempty"`

	// RestrictionText is the clinical restriction criteria for
	// authority-required items, empty for unrestricted items.
	RestrictionText string `json:"restriction_text,omitempty"`
}

// AuthorityType maps the schedule benefit type code to the approval pathway.
func (i *Item) AuthorityType() AuthorityType {
	switch i.BenefitTypeCode {
	case BenefitTypeStreamlined:
		return AuthorityStreamlined
	case BenefitTypeAuthority:
		return AuthorityPhone
	default:
		return AuthorityNone
	}
}

// RequiresAuthority reports whether prescribing the item needs an
// authority application at all.
func (i *Item) RequiresAuthority() bool {
	return i.AuthorityType() != AuthorityNone
}

// DisplayName returns the drug name with the brand in parentheses when known.
func (i *Item) DisplayName() string {
	if i.BrandName == "" {
		return i.DrugName
	}
	return fmt.Sprintf("%s (%s)", i.DrugName, i.BrandName)
}

// PageURL returns the public PBS website page for the item.
func (i *Item) PageURL() string {
	return "https://www.pbs.gov.au/medicine/item/" + i.Code
}

// Schedule identifies a monthly PBS schedule publication.
type Schedule struct {
	Code          int    `json:"schedule_code"`
	EffectiveDate string `json:"effective_date,omitempty"`
	EffectiveYear int    `json:"effective_year,omitempty"`
}

// NormalizeCode upper-cases and trims an item code for querying. PBS codes
// are digits followed by a single check letter (e.g. 10006C).
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateProviderNumber checks the shape of a hospital provider number:
// exactly six ASCII digits. It is not authenticated against any registry.
func ValidateProviderNumber(provider string) error {
	if len(provider) != 6 {
		return ErrInvalidProviderNumber
	}
	for _, r := range provider {
		if r < '0' || r > '9' {
			return ErrInvalidProviderNumber
		}
	}
	return nil
}
