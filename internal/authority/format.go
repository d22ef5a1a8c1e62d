// Package authority renders authority application text blocks from a
// selected PBS item and a hospital provider number.
package authority

import (
	"errors"
	"fmt"

	"github.com/lukeslade/pbs-lookup-tool/internal/pbs"
)

// ErrNoAuthorityRequired is returned for unrestricted items, which have
// no application to format.
var ErrNoAuthorityRequired = errors.New("authority: item does not require an authority application")

// Format renders the application block for an item. The output is fully
// deterministic for identical inputs: provider number, item code and
// restriction criteria in fixed order, no timestamps.
//
// The item must require an authority (streamlined or phone); callers
// showing unrestricted items should display the item details instead.
func Format(item *pbs.Item, providerNumber string) (string, error) {
	if item == nil {
		return "", errors.New("authority: nil item")
	}
	if err := pbs.ValidateProviderNumber(providerNumber); err != nil {
		return "", err
	}
	if !item.RequiresAuthority() {
		return "", ErrNoAuthorityRequired
	}

	return fmt.Sprintf("Hospital Provider Number [%s]\n%s\n%s",
		providerNumber, item.Code, item.RestrictionText), nil
}

// Filename names the download for a formatted application.
func Filename(item *pbs.Item) string {
	return "authority_" + item.Code + ".txt"
}
