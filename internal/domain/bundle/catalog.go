package bundle

import "errors"

// ErrNotFound is returned when a bundle id is not in the catalog.
var ErrNotFound = errors.New("bundle not found")

// Catalog is an immutable in-memory registry of guideline bundles.
type Catalog struct {
	bundles map[string]*GuidelineBundle
	order   []string
}

// NewCatalog builds a catalog from the given bundles.
func NewCatalog(bundles ...*GuidelineBundle) *Catalog {
	c := &Catalog{bundles: make(map[string]*GuidelineBundle, len(bundles))}
	for _, b := range bundles {
		if _, exists := c.bundles[b.BundleID]; exists {
			continue
		}
		c.bundles[b.BundleID] = b
		c.order = append(c.order, b.BundleID)
	}
	return c
}

// DefaultCatalog returns the catalog seeded with the built-in bundles.
func DefaultCatalog() *Catalog {
	return NewCatalog(FebrileInfantBundle(), PediatricSepsisBundle())
}

// Get returns the bundle with the given id.
func (c *Catalog) Get(bundleID string) (*GuidelineBundle, error) {
	b, ok := c.bundles[bundleID]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

// List returns all bundles in registration order.
func (c *Catalog) List() []*GuidelineBundle {
	out := make([]*GuidelineBundle, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.bundles[id])
	}
	return out
}
