package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TherapyType is the route of allergen immunotherapy
type TherapyType string

const (
	TherapySCIT TherapyType = "scit" // subcutaneous
	TherapySLIT TherapyType = "slit" // sublingual
)

func (t *TherapyType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch v := TherapyType(strings.ToLower(strings.TrimSpace(s))); v {
	case TherapySCIT, TherapySLIT:
		*t = v
		return nil
	default:
		return fmt.Errorf("unknown therapy type %q", s)
	}
}

// DosageType is the unit a dose is counted in
type DosageType string

const (
	DosagePress  DosageType = "press"
	DosageTablet DosageType = "tablet"
)

func (d DosageType) Valid() bool {
	return d == DosagePress || d == DosageTablet
}

// Dosage is a value type; two dosages are equal when type and amount match
type Dosage struct {
	Type   DosageType `json:"type"`
	Amount int        `json:"amount"`
}

func (d Dosage) Valid() bool {
	return d.Type.Valid() && d.Amount > 0
}

func (d Dosage) String() string {
	return fmt.Sprintf("%d %s", d.Amount, d.Type)
}

// LocalizedName holds display names per language
type LocalizedName struct {
	RU string `json:"ru"`
	EN string `json:"en,omitempty"`
}

// Get returns the name for lang, falling back to any non-empty translation
func (n LocalizedName) Get(lang string) string {
	switch strings.ToLower(lang) {
	case "en":
		if n.EN != "" {
			return n.EN
		}
	case "ru":
		if n.RU != "" {
			return n.RU
		}
	}
	if n.RU != "" {
		return n.RU
	}
	return n.EN
}

// Package is a commercial form of a medication with the dosages it supports
type Package struct {
	ID      string        `json:"id"`
	Name    LocalizedName `json:"name"`
	Dosages []Dosage      `json:"dosages"`
}

// Offers reports whether the package lists the dosage
func (p Package) Offers(d Dosage) bool {
	for _, candidate := range p.Dosages {
		if candidate == d {
			return true
		}
	}
	return false
}

// Medication is immutable reference data
type Medication struct {
	ID          string        `json:"id"`
	Name        LocalizedName `json:"name"`
	TherapyType TherapyType   `json:"therapyType"`
	Packages    []Package     `json:"packages"`
}

// Package looks up a package by id
func (m Medication) Package(id string) (Package, bool) {
	for _, p := range m.Packages {
		if p.ID == id {
			return p, true
		}
	}
	return Package{}, false
}
