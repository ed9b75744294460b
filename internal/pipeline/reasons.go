package pipeline

import (
	"errors"

	"github.com/JakeFAU/dealer-gatherer/internal/catalog"
	"github.com/JakeFAU/dealer-gatherer/internal/extract"
	"github.com/JakeFAU/dealer-gatherer/internal/product"
)

var rejectReasons = []struct {
	err    error
	reason string
}{
	{ErrNoIdentifier, "no_identifier"},
	{ErrIdentifierNotInBody, "identifier_not_in_body"},
	{ErrDuplicate, "duplicate"},
	{ErrNoVIN, "no_vin"},
	{catalog.ErrNoMake, "no_make"},
	{catalog.ErrNoModel, "no_model"},
	{catalog.ErrAmbiguousMake, "ambiguous_make"},
	{catalog.ErrAmbiguousModel, "ambiguous_model"},
	{extract.ErrSold, "sold"},
	{extract.ErrMileageRange, "mileage_range"},
	{product.ErrInvalidVIN, "invalid_vin"},
	{product.ErrMissingMake, "no_make"},
	{product.ErrMissingModel, "no_model"},
	{product.ErrNoIdentity, "no_identifier"},
}

// RejectReason maps a hard-reject error to a short metrics label.
func RejectReason(err error) string {
	for _, r := range rejectReasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "other"
}
