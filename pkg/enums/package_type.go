package enums

import "fmt"

// PackageType classifies a delivery's parcel.
type PackageType string

const (
	PackageTypeDocument PackageType = "document"
	PackageTypeSmall    PackageType = "small"
	PackageTypeMedium   PackageType = "medium"
	PackageTypeLarge    PackageType = "large"
)

var validPackageTypes = []PackageType{
	PackageTypeDocument,
	PackageTypeSmall,
	PackageTypeMedium,
	PackageTypeLarge,
}

func (p PackageType) String() string {
	return string(p)
}

func (p PackageType) IsValid() bool {
	for _, candidate := range validPackageTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

func ParsePackageType(value string) (PackageType, error) {
	for _, candidate := range validPackageTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid package type %q", value)
}
