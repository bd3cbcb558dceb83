package catalog

import (
	"fmt"
	"strings"
)

// CatalogError is returned when the device yields no players, leaving
// nothing addressable.
type CatalogError struct {
	Reason string
	Err    error
}

func (e *CatalogError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("catalog: %s: %v", e.Reason, e.Err)
	}
	return "catalog: " + e.Reason
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}

// NameResolutionError names the token that matched no catalog entry.
type NameResolutionError struct {
	Kind  Kind
	Name  string
	Known []string
}

func (e *NameResolutionError) Error() string {
	return fmt.Sprintf("catalog: %s name %q is not known (known: %s); try rediscovery",
		e.Kind, e.Name, strings.Join(e.Known, ", "))
}
