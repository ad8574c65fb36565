package device

import (
	"fmt"
	"strconv"
	"strings"

	"grohe-sync-backend/internal/parse"
)

// Kind is the appliance type code used by the remote API.
type Kind int

const (
	KindSense            Kind = 101
	KindSenseGuard       Kind = 103
	KindBlueHome         Kind = 104
	KindBlueProfessional Kind = 105
)

var kindNames = map[Kind]string{
	KindSense:            "sense",
	KindSenseGuard:       "sense_guard",
	KindBlueHome:         "blue_home",
	KindBlueProfessional: "blue_professional",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind accepts either the numeric type code or its name.
func ParseKind(raw string) (Kind, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if n, err := strconv.Atoi(s); err == nil {
		if _, ok := kindNames[Kind(n)]; ok {
			return Kind(n), nil
		}
		return 0, fmt.Errorf("unknown appliance type code: %d", n)
	}
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown appliance type: %q", raw)
}

// Identity addresses one appliance in every remote call. It is passed by value and
// never changed after registration.
type Identity struct {
	Name            string
	LocationID      string
	RoomID          string
	ApplianceID     string
	Kind            Kind
	FirmwareVersion string
}

func (id Identity) String() string {
	return fmt.Sprintf("%s (%s)", id.Name, id.ApplianceID)
}

// SupportsVersion reports whether the appliance firmware is at least min.
// An unparseable firmware or minimum yields false.
func (id Identity) SupportsVersion(min string) bool {
	if min == "" {
		return false
	}
	want, err := parse.ParseVersion(min)
	if err != nil {
		return false
	}
	have, err := parse.ParseVersion(id.FirmwareVersion)
	if err != nil {
		return false
	}
	return have.AtLeast(want)
}
