package deviceinfo

import "github.com/OpenTraceLab/xvcd/pkg/idcode"

// DeviceInfo contains rich information about a JTAG device
type DeviceInfo struct {
	IDCode       idcode.IDCode
	Manufacturer idcode.Manufacturer

	Name        string // "XC7A35T"
	Family      string // "Artix-7"
	Description string

	IsFPGA   bool
	IsMCU    bool
	IsSoC    bool
	IsDebug  bool // debug access port rather than a user-visible device
	IRLength int
}

// Known reports whether the device was found in the database.
func (d DeviceInfo) Known() bool {
	return d.Family != ""
}
