package inventory

import "errors"

var (
	// ErrDeviceNotFound is returned when a device does not exist in the inventory.
	ErrDeviceNotFound = errors.New("inventory: device not found")

	// ErrDeviceExists is returned when creating a device whose serial number
	// is already recorded.
	ErrDeviceExists = errors.New("inventory: device already exists")

	// ErrInvalidDevice is returned when a device fails validation.
	ErrInvalidDevice = errors.New("inventory: invalid device")
)
