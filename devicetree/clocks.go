// This file resolves clock references. A node's clocks property is a list of
// (phandle, specifier...) entries where each specifier's length comes from
// the referenced provider's #clock-cells, so the entries can only be walked
// with the providers in hand.
package devicetree

import (
	"io/fs"
	"path/filepath"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
)

// ErrNoFixedRate is returned for clock providers that don't declare a
// clock-frequency, i.e. anything other than a fixed-clock.
var ErrNoFixedRate = errors.New("clock provider has no fixed rate")

func (t *Tree) phandleIndex() (map[uint32]string, error) {
	t.phandleOnce.Do(func() {
		index := map[uint32]string{}
		t.phandleErr = filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return err
			}
			rel, relErr := filepath.Rel(t.root, path)
			if relErr != nil {
				return relErr
			}
			node := "/" + filepath.ToSlash(rel)
			if rel == "." {
				node = "/"
			}
			for _, prop := range []string{"phandle", "linux,phandle"} {
				if ph, err := t.U32(node, prop, 0); err == nil {
					index[ph] = node
					break
				}
			}
			return nil
		})
		t.phandles = index
	})
	return t.phandles, t.phandleErr
}

// NodeByPhandle returns the node carrying the given phandle.
func (t *Tree) NodeByPhandle(ph uint32) (string, error) {
	index, err := t.phandleIndex()
	if err != nil {
		return "", err
	}
	node, ok := index[ph]
	if !ok {
		return "", errors.Wrapf(ErrNodeNotFound, "no node with phandle 0x%x", ph)
	}
	return node, nil
}

// clockRefs walks a node's clocks property and returns the provider node of
// each reference.
func (t *Tree) clockRefs(node string) ([]string, error) {
	cells, err := t.U32s(node, "clocks")
	if err != nil {
		return nil, err
	}
	var providers []string
	for i := 0; i < len(cells); {
		provider, err := t.NodeByPhandle(cells[i])
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedProperty, "%s/clocks: entry %d: %v", node, len(providers), err)
		}
		specCells, err := t.U32(provider, "#clock-cells", 0)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedProperty, "%s/clocks: provider %s has no #clock-cells", node, provider)
		}
		i += 1 + int(specCells)
		if i > len(cells) {
			return nil, errors.Wrapf(ErrMalformedProperty, "%s/clocks: truncated specifier for provider %s", node, provider)
		}
		providers = append(providers, provider)
	}
	return providers, nil
}

// CountClockReferences returns how many clock references a node carries. A
// node with no clocks property has zero references; a clocks property that
// cannot be walked also counts as zero, the way the kernel's parent-count
// helper clamps errors.
func (t *Tree) CountClockReferences(node string) int {
	providers, err := t.clockRefs(node)
	if err != nil {
		return 0
	}
	return len(providers)
}

// ClockByName resolves one of a node's clock references by its clock-names
// entry and returns the provider node.
func (t *Tree) ClockByName(node, name string) (string, error) {
	names, err := t.Strings(node, "clock-names")
	if err != nil {
		return "", errors.Wrapf(err, "resolving clock %q of %s", name, node)
	}
	index := -1
	for i, n := range names {
		if n == name {
			index = i
			break
		}
	}
	if index < 0 {
		return "", errors.Wrapf(ErrNodeNotFound, "%s has no clock named %q", node, name)
	}
	providers, err := t.clockRefs(node)
	if err != nil {
		return "", errors.Wrapf(err, "resolving clock %q of %s", name, node)
	}
	if index >= len(providers) {
		return "", errors.Wrapf(ErrMalformedProperty, "%s: clock-names lists %q at %d but clocks has only %d references", node, name, index, len(providers))
	}
	return providers[index], nil
}

// FixedRate returns a clock provider's declared rate. Only fixed-clock nodes
// declare one; everything else yields ErrNoFixedRate.
func (t *Tree) FixedRate(provider string) (physic.Frequency, error) {
	hz, err := t.U32(provider, "clock-frequency", 0)
	if errors.Is(err, ErrPropertyAbsent) {
		return 0, errors.Wrapf(ErrNoFixedRate, "%s", provider)
	}
	if err != nil {
		return 0, err
	}
	return physic.Frequency(hz) * physic.Hertz, nil
}
