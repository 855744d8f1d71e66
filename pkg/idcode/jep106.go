package idcode

import "fmt"

// manufacturers maps the 11-bit IDCODE manufacturer field (bank number minus
// one in bits 10:7, JEP106 code without parity in bits 6:0) to a vendor.
var manufacturers = map[uint16]Manufacturer{
	0x001: {Code: 0x001, Name: "AMD", Abbreviation: "AMD"},
	0x009: {Code: 0x009, Name: "Intel", Abbreviation: "Intel"},
	0x00E: {Code: 0x00E, Name: "Freescale (Motorola)", Abbreviation: "Freescale"},
	0x015: {Code: 0x015, Name: "NXP (Philips)", Abbreviation: "NXP"},
	0x017: {Code: 0x017, Name: "Texas Instruments", Abbreviation: "TI"},
	0x01F: {Code: 0x01F, Name: "Atmel", Abbreviation: "Atmel"},
	0x020: {Code: 0x020, Name: "STMicroelectronics", Abbreviation: "STM"},
	0x021: {Code: 0x021, Name: "Lattice Semiconductor", Abbreviation: "Lattice"},
	0x029: {Code: 0x029, Name: "Microchip Technology", Abbreviation: "Microchip"},
	0x034: {Code: 0x034, Name: "Cypress", Abbreviation: "Cypress"},
	0x041: {Code: 0x041, Name: "Infineon", Abbreviation: "Infineon"},
	0x049: {Code: 0x049, Name: "Xilinx", Abbreviation: "Xilinx"},
	0x06E: {Code: 0x06E, Name: "Altera", Abbreviation: "Altera"},
	0x0E7: {Code: 0x0E7, Name: "Microsemi (Actel)", Abbreviation: "Microsemi"},
	0x23B: {Code: 0x23B, Name: "ARM", Abbreviation: "ARM"},
	0x272: {Code: 0x272, Name: "Espressif", Abbreviation: "Espressif"},
	0x40D: {Code: 0x40D, Name: "Gowin Semiconductor", Abbreviation: "Gowin"},
}

// LookupManufacturer returns manufacturer info for a JEP106 code
func LookupManufacturer(code uint16) (Manufacturer, bool) {
	m, ok := manufacturers[code]
	if !ok {
		return Manufacturer{
			Code:         code,
			Name:         fmt.Sprintf("Unknown (0x%03X)", code),
			Abbreviation: "Unknown",
		}, false
	}
	return m, true
}
