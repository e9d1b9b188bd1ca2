// Package catalog holds the read-only medication reference data.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
)

//go:embed medications.json
var bundled []byte

// Catalog serves read-only medication data. The data set is an immutable
// index swapped as a whole on reload, so readers never see a partial update.
type Catalog struct {
	idx atomic.Pointer[index]
}

type index struct {
	medications []Medication
	byID        map[string]Medication
}

func newIndex(medications []Medication) *index {
	idx := &index{
		medications: make([]Medication, 0, len(medications)),
		byID:        make(map[string]Medication, len(medications)),
	}
	for _, m := range medications {
		if m.ID == "" {
			continue
		}
		if _, dup := idx.byID[m.ID]; dup {
			continue
		}
		idx.medications = append(idx.medications, m)
		idx.byID[m.ID] = m
	}
	return idx
}

// New builds a catalog from already decoded medications
func New(medications []Medication) *Catalog {
	c := &Catalog{}
	c.idx.Store(newIndex(medications))
	return c
}

// Replace swaps in the medications of other
func (c *Catalog) Replace(other *Catalog) {
	c.idx.Store(other.idx.Load())
}

// Empty returns a catalog with no medications
func Empty() *Catalog {
	return New(nil)
}

// Parse decodes a JSON array of medications
func Parse(data []byte) (*Catalog, error) {
	var meds []Medication
	if err := json.Unmarshal(data, &meds); err != nil {
		return nil, fmt.Errorf("failed to decode medications: %w", err)
	}
	return New(meds), nil
}

// Load reads the catalog from path, or the bundled resource when path is empty.
// Missing or malformed data degrades to an empty catalog.
func Load(path string, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}

	data := bundled
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("Medication catalog unavailable, using empty catalog",
				zap.String("path", path), zap.Error(err))
			return Empty()
		}
		data = b
	}

	c, err := Parse(data)
	if err != nil {
		logger.Warn("Medication catalog malformed, using empty catalog",
			zap.String("path", path), zap.Error(err))
		return Empty()
	}

	logger.Info("Medication catalog loaded", zap.Int("medications", c.Len()))
	return c
}

func (c *Catalog) Len() int {
	return len(c.idx.Load().medications)
}

// Medications returns the medications in file order
func (c *Catalog) Medications() []Medication {
	meds := c.idx.Load().medications
	out := make([]Medication, len(meds))
	copy(out, meds)
	return out
}

func (c *Catalog) Lookup(id string) (Medication, bool) {
	m, ok := c.idx.Load().byID[id]
	return m, ok
}

// Packages returns the packages offered for a medication; nil when unknown
func (c *Catalog) Packages(medicationID string) []Package {
	m, ok := c.idx.Load().byID[medicationID]
	if !ok {
		return nil
	}
	out := make([]Package, len(m.Packages))
	copy(out, m.Packages)
	return out
}

// Dosages returns the dosages of one package; nil when either id is unknown
func (c *Catalog) Dosages(medicationID, packageID string) []Dosage {
	m, ok := c.idx.Load().byID[medicationID]
	if !ok {
		return nil
	}
	p, ok := m.Package(packageID)
	if !ok {
		return nil
	}
	out := make([]Dosage, len(p.Dosages))
	copy(out, p.Dosages)
	return out
}

// DisplayName returns the localized medication name, or the raw id when it is not in the catalog
func (c *Catalog) DisplayName(medicationID, lang string) string {
	if m, ok := c.idx.Load().byID[medicationID]; ok {
		if name := m.Name.Get(lang); name != "" {
			return name
		}
	}
	return medicationID
}

// PackageName returns the localized package name, or the raw id
func (c *Catalog) PackageName(medicationID, packageID, lang string) string {
	if m, ok := c.idx.Load().byID[medicationID]; ok {
		if p, ok := m.Package(packageID); ok {
			if name := p.Name.Get(lang); name != "" {
				return name
			}
		}
	}
	return packageID
}
