package deviceinfo

import "github.com/OpenTraceLab/xvcd/pkg/idcode"

type key struct {
	ManufacturerCode uint16
	PartNumber       uint16
}

var db = make(map[key]DeviceInfo)

func register(mfg, part uint16, info DeviceInfo) {
	db[key{ManufacturerCode: mfg, PartNumber: part}] = info
}

// Lookup returns device information for a given IDCODE. The version nibble
// is ignored. Unknown devices get a generic entry.
func Lookup(rawID uint32) DeviceInfo {
	id := idcode.ParseIDCode(rawID)
	m, _ := idcode.LookupManufacturer(id.ManufacturerCode)

	if info, ok := db[key{ManufacturerCode: id.ManufacturerCode, PartNumber: id.PartNumber}]; ok {
		info.IDCode = id
		info.Manufacturer = m
		return info
	}

	return DeviceInfo{
		IDCode:       id,
		Manufacturer: m,
		Name:         "Unknown device",
		Description:  "No entry in device database",
	}
}
