package device

import (
	"regexp"
	"strings"
)

// Descriptor is one discovered device, as reported by a single discovery event
type Descriptor struct {
	ID          string `json:"id"`
	Address     string `json:"address"`
	RSSI        int    `json:"rssi"`
	Name        string `json:"name"`
	Connectable bool   `json:"connectable"`
}

var (
	vendorIDPattern = regexp.MustCompile(`^[0-9A-Fa-f]{8}$`)
	macPattern      = regexp.MustCompile(`^[0-9A-Fa-f]{2}([:-][0-9A-Fa-f]{2}){5}$`)
	uuidPattern     = regexp.MustCompile(`^[0-9A-Fa-f]{8}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{12}$`)
)

// ValidateID checks that id is a vendor device id (8 hex digits), a 48-bit
// device address or a CoreBluetooth peripheral UUID.
func ValidateID(id string) error {
	switch {
	case id == "":
		return InvalidArgument("validate", id, "device id is empty")
	case strings.TrimSpace(id) != id:
		return InvalidArgument("validate", id, "device id has surrounding whitespace")
	case vendorIDPattern.MatchString(id), macPattern.MatchString(id), uuidPattern.MatchString(id):
		return nil
	default:
		return InvalidArgument("validate", id, "device id is malformed")
	}
}

// IsAddress reports whether id is a transport address rather than a vendor id
func IsAddress(id string) bool {
	return macPattern.MatchString(id) || uuidPattern.MatchString(id)
}

// VendorIDFromName extracts the vendor id advertised as the last word of the
// device name, e.g. "Polar H10 A1B2C3D4" -> "A1B2C3D4".
func VendorIDFromName(name string) string {
	fields := strings.Fields(name)
	if len(fields) < 2 {
		return ""
	}
	last := fields[len(fields)-1]
	if vendorIDPattern.MatchString(last) {
		return strings.ToUpper(last)
	}
	return ""
}
