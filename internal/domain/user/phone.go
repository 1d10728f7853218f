package user

import (
	"fmt"
	"strings"

	"github.com/ttacon/libphonenumber"
)

// DefaultPhoneRegion is used to parse numbers without a country prefix.
const DefaultPhoneRegion = "US"

// NormalizePhone returns phone in E.164. Blank numbers normalise to nil.
// region applies to numbers without a country prefix.
func NormalizePhone(phone *string, region string) (*string, error) {
	if phone == nil || strings.TrimSpace(*phone) == "" {
		return nil, nil
	}
	if region == "" {
		region = DefaultPhoneRegion
	}
	num, err := libphonenumber.Parse(*phone, region)
	if err != nil {
		return nil, fmt.Errorf("%w: phone: %v", ErrInvalidInput, err)
	}
	if !libphonenumber.IsValidNumber(num) {
		return nil, fmt.Errorf("%w: phone number is not valid", ErrInvalidInput)
	}
	formatted := libphonenumber.Format(num, libphonenumber.E164)
	return &formatted, nil
}
