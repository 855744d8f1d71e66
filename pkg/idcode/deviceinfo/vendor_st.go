package deviceinfo

// STMicroelectronics boundary-scan TAPs. They sit behind the ARM debug TAP
// on the same chain.
func init() {
	const stm = 0x020

	mcu := func(name, family, core string) DeviceInfo {
		return DeviceInfo{
			Name:        name,
			Family:      family,
			Description: "ARM " + core + " MCU boundary scan",
			IsMCU:       true,
			IRLength:    5,
		}
	}

	register(stm, 0x6410, mcu("STM32F10x (Medium-density)", "STM32F1", "Cortex-M3"))
	register(stm, 0x6412, mcu("STM32F10x (Low-density)", "STM32F1", "Cortex-M3"))
	register(stm, 0x6414, mcu("STM32F10x (High-density)", "STM32F1", "Cortex-M3"))
	register(stm, 0x6413, mcu("STM32F40x/41x", "STM32F4", "Cortex-M4"))
	register(stm, 0x6419, mcu("STM32F42x/43x", "STM32F4", "Cortex-M4"))
	register(stm, 0x6422, mcu("STM32F30x/31x", "STM32F3", "Cortex-M4"))
	register(stm, 0x6449, mcu("STM32F74x/75x", "STM32F7", "Cortex-M7"))
	register(stm, 0x6450, mcu("STM32H74x/75x", "STM32H7", "Cortex-M7"))
}
