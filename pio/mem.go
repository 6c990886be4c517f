//go:build linux

// Package pio drives the register file of Allwinner PIO pin controllers.
// This particular file is for raw register access through /dev/mem.
package pio

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"go.viam.com/utils"
	"golang.org/x/sys/unix"
)

// RegIO is 32-bit access into a controller's register window. Offsets are
// byte offsets from the controller's base and must be word aligned. The PIO
// block requires whole-word accesses, so implementations must not decompose
// these into byte operations.
type RegIO interface {
	Read32(offset uint32) uint32
	Write32(offset, value uint32)
}

// devMem maps a controller's registers out of /dev/mem. The physical base is
// usually not page aligned (the classic PIO sits at 0x01c20800), so the
// mapping covers the surrounding pages and the window trims to the block.
type devMem struct {
	mapping []byte
	words   []uint32
}

func openDevMem(base, size uint64) (*devMem, error) {
	if base%4 != 0 || size == 0 {
		return nil, errors.Errorf("register block 0x%x+0x%x is not word aligned", base, size)
	}
	pageSize := uint64(os.Getpagesize())
	mapBase := base &^ (pageSize - 1)
	skew := base - mapBase
	mapLen := (skew + size + pageSize - 1) &^ (pageSize - 1)

	devMemFile, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "opening /dev/mem (this normally needs root)")
	}
	// The mapping outlives the descriptor.
	defer utils.UncheckedErrorFunc(devMemFile.Close)

	mapping, err := unix.Mmap(int(devMemFile.Fd()), int64(mapBase), int(mapLen),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "mapping 0x%x+0x%x from /dev/mem", mapBase, mapLen)
	}

	window := mapping[skew : skew+size]
	return &devMem{
		mapping: mapping,
		words:   unsafe.Slice((*uint32)(unsafe.Pointer(&window[0])), len(window)/4),
	}, nil
}

func (m *devMem) Read32(offset uint32) uint32 {
	return m.words[offset/4]
}

func (m *devMem) Write32(offset, value uint32) {
	m.words[offset/4] = value
}

func (m *devMem) Close() error {
	return unix.Munmap(m.mapping)
}
