package dal

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Composite is a DAL assembled from independent reader and printer
// backends. A nil factory means the terminal has no such device.
type Composite struct {
	PiccFactory    func(t PiccType) (Picc, error)
	PrinterFactory func() (Printer, error)
	// Versions collects the native library versions of the backends.
	Versions map[string]string
}

// Picc opens a reader of type t through PiccFactory.
func (c *Composite) Picc(t PiccType) (Picc, error) {
	if c.PiccFactory == nil {
		return nil, fmt.Errorf("no %s card reader configured", t)
	}
	return c.PiccFactory(t)
}

// Printer returns the printer from PrinterFactory.
func (c *Composite) Printer() (Printer, error) {
	if c.PrinterFactory == nil {
		return nil, fmt.Errorf("no printer configured")
	}
	return c.PrinterFactory()
}

// Version reports the backend versions as "name version" pairs.
func (c *Composite) Version() string {
	names := make([]string, 0, len(c.Versions))
	for name := range c.Versions {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+c.Versions[name])
	}
	return strings.Join(parts, ", ")
}

// StaticLoader returns a loader that always hands out d.
func StaticLoader(d DAL) Loader {
	return LoaderFunc(func(ctx context.Context) (DAL, error) {
		return d, nil
	})
}
