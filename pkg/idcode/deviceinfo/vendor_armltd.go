package deviceinfo

func init() {
	const arm = 0x23B

	// Cortex-M3/M4 SWJ-DP and the Zynq-7000 DAP share this part number.
	register(arm, 0xBA00, DeviceInfo{
		Name:        "JTAG-DP",
		Family:      "CoreSight",
		Description: "ARM debug access port",
		IsDebug:     true,
		IRLength:    4,
	})
}
