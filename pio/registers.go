//go:build linux

// Package pio drives the register file of Allwinner PIO pin controllers.
// This particular file lays out the register map shared by the classic
// controller generations (A64, H3, H6 and their always-on blocks): one
// 0x24-byte block per port, then the per-bank external-interrupt blocks.
package pio

const (
	portStride = 0x24

	portCfgReg  = 0x00 // 4 registers, 8 pins each, 4 bits per pin
	portDatReg  = 0x10 // 1 bit per pin
	portDrvReg  = 0x14 // 2 registers, 16 pins each, 2 bits per pin
	portPullReg = 0x1c // 2 registers, 16 pins each, 2 bits per pin
)

// External-interrupt banks sit above the port blocks, one 0x20-byte block
// per hardware bank.
const (
	eintBankStride = 0x20

	eintCfgReg      = 0x200 // 4 registers, 8 pins each, 4 bits per pin
	eintCtlReg      = 0x210 // 1 bit per pin
	eintStatusReg   = 0x214 // 1 bit per pin
	eintDebounceReg = 0x218 // clock source in bit 0, prescale divisor in bits 6:4
)

func cfgReg(block uint32, index int) (offset, shift uint32) {
	return block*portStride + portCfgReg + uint32(index/8)*4, uint32(index%8) * 4
}

func datReg(block uint32) uint32 {
	return block*portStride + portDatReg
}

func drvReg(block uint32, index int) (offset, shift uint32) {
	return block*portStride + portDrvReg + uint32(index/16)*4, uint32(index%16) * 2
}

func pullReg(block uint32, index int) (offset, shift uint32) {
	return block*portStride + portPullReg + uint32(index/16)*4, uint32(index%16) * 2
}

func debounceReg(hwBank uint32) uint32 {
	return eintDebounceReg + hwBank*eintBankStride
}
