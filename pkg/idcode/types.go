package idcode

import "fmt"

// IDCode represents a parsed IEEE 1149.1 JTAG IDCODE
type IDCode struct {
	Raw              uint32 // full IDCODE
	Version          uint8  // [31:28]
	PartNumber       uint16 // [27:12]
	ManufacturerCode uint16 // [11:1] JEP106
	HasIDCode        bool   // bit 0 == 1
}

func (id IDCode) String() string {
	if !id.HasIDCode {
		return "BYPASS"
	}
	m, _ := LookupManufacturer(id.ManufacturerCode)
	return fmt.Sprintf("0x%08X (Mfg: %s, Part: 0x%04X, Ver: %d)",
		id.Raw, m.Name, id.PartNumber, id.Version)
}

// Manufacturer represents a JEP106 manufacturer entry
type Manufacturer struct {
	Code         uint16
	Name         string
	Abbreviation string
}
