package persona

import (
	"strings"

	"github.com/zhouzirui/z-parley/backend/internal/model/validation"
)

// Persona is a configured participant in a negotiation.
type Persona struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Name       string    `json:"name" gorm:"not null"`
	Background string    `json:"background" gorm:"type:text;not null"`
	Goal       string    `json:"goal" gorm:"type:text;not null"`
	ModelType  ModelType `json:"modelType" gorm:"column:model_type;not null;default:gpt-4o"`
}

func (Persona) TableName() string {
	return "personas"
}

// Input carries the writable persona fields for create and update.
type Input struct {
	Name       string    `json:"name"`
	Background string    `json:"background"`
	Goal       string    `json:"goal"`
	ModelType  ModelType `json:"modelType"`
}

// Normalize trims whitespace and applies the default model.
func (in Input) Normalize() Input {
	in.Name = strings.TrimSpace(in.Name)
	in.Background = strings.TrimSpace(in.Background)
	in.Goal = strings.TrimSpace(in.Goal)
	in.ModelType = ModelType(strings.TrimSpace(string(in.ModelType)))
	if in.ModelType == "" {
		in.ModelType = DefaultModelType
	}
	return in
}

// Validate reports field errors as a *validation.Error.
func (in Input) Validate() error {
	verr := &validation.Error{}
	if in.Name == "" {
		verr.Add("name", "is required")
	}
	if in.Background == "" {
		verr.Add("background", "is required")
	}
	if in.Goal == "" {
		verr.Add("goal", "is required")
	}
	if _, ok := LookupModel(in.ModelType); !ok {
		verr.Add("modelType", "unknown model "+string(in.ModelType))
	}
	return verr.Err()
}

// Apply copies the input fields onto p, keeping its identity.
func (in Input) Apply(p Persona) Persona {
	p.Name = in.Name
	p.Background = in.Background
	p.Goal = in.Goal
	p.ModelType = in.ModelType
	return p
}

// Seed provides a pair of negotiating personas for local runs.
func Seed() []Input {
	return []Input{
		{
			Name:       "Morgan (Landlord)",
			Background: "Owns a small apartment building and has seen maintenance costs rise sharply over the past two years.",
			Goal:       "Renew the lease with a rent increase that covers the new costs without losing a reliable tenant.",
			ModelType:  "gpt-4o",
		},
		{
			Name:       "Riley (Tenant)",
			Background: "Has rented the same unit for five years, always paid on time, and is on a fixed budget.",
			Goal:       "Keep the apartment while limiting the rent increase and getting the heating repaired.",
			ModelType:  "gpt-4o",
		},
	}
}
