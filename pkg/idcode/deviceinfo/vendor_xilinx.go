package deviceinfo

// Xilinx FPGAs and SoCs commonly reached over XVC.
func init() {
	const xilinx = 0x049

	fpga := func(name, family string) DeviceInfo {
		return DeviceInfo{Name: name, Family: family, Description: family + " FPGA", IsFPGA: true, IRLength: 6}
	}

	register(xilinx, 0x362E, fpga("XC7A15T", "Artix-7"))
	register(xilinx, 0x362D, fpga("XC7A35T", "Artix-7"))
	register(xilinx, 0x362C, fpga("XC7A50T", "Artix-7"))
	register(xilinx, 0x3632, fpga("XC7A75T", "Artix-7"))
	register(xilinx, 0x3631, fpga("XC7A100T", "Artix-7"))
	register(xilinx, 0x3636, fpga("XC7A200T", "Artix-7"))
	register(xilinx, 0x3647, fpga("XC7K70T", "Kintex-7"))
	register(xilinx, 0x3651, fpga("XC7K325T", "Kintex-7"))
	register(xilinx, 0x3691, fpga("XC7VX485T", "Virtex-7"))

	register(xilinx, 0x3722, DeviceInfo{Name: "XC7Z010", Family: "Zynq-7000", Description: "Zynq-7000 SoC PL", IsFPGA: true, IsSoC: true, IRLength: 6})
	register(xilinx, 0x3727, DeviceInfo{Name: "XC7Z020", Family: "Zynq-7000", Description: "Zynq-7000 SoC PL", IsFPGA: true, IsSoC: true, IRLength: 6})
}
