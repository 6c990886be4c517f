// Package devicetree reads the flattened device tree that the kernel exposes
// as a directory hierarchy, normally under /proc/device-tree. Nodes are
// directories, properties are files holding big-endian cells or NUL-separated
// strings.
package devicetree

import (
	"encoding/binary"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// DefaultRoot is where the kernel mounts the flattened device tree.
const DefaultRoot = "/proc/device-tree"

// Errors returned by property and node lookups. Callers that need to tell
// "not there" apart from "there but undecodable" match on these with
// errors.Is.
var (
	ErrPropertyAbsent    = errors.New("property absent")
	ErrMalformedProperty = errors.New("malformed property")
	ErrNodeNotFound      = errors.New("node not found")
)

// Tree is a read-only view of a flattened device tree. Node arguments are
// absolute tree paths ("/soc/pinctrl@300b000"); "/" is the root node.
type Tree struct {
	root string

	phandleOnce sync.Once
	phandleErr  error
	phandles    map[uint32]string
}

// Open returns a Tree rooted at the given directory.
func Open(root string) (*Tree, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open device tree at %s", root)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("device tree root %s is not a directory", root)
	}
	return &Tree{root: root}, nil
}

// System opens the running system's device tree.
func System() (*Tree, error) {
	return Open(DefaultRoot)
}

func (t *Tree) nodeDir(node string) string {
	return filepath.Join(t.root, filepath.FromSlash(node))
}

// HasNode reports whether the given node exists.
func (t *Tree) HasNode(node string) bool {
	info, err := os.Stat(t.nodeDir(node))
	return err == nil && info.IsDir()
}

// HasProperty reports whether the node carries the named property.
func (t *Tree) HasProperty(node, prop string) bool {
	info, err := os.Stat(filepath.Join(t.nodeDir(node), prop))
	return err == nil && !info.IsDir()
}

// Bytes returns a property's raw contents.
func (t *Tree) Bytes(node, prop string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(t.nodeDir(node), prop))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrPropertyAbsent, "%s/%s", node, prop)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s/%s", node, prop)
	}
	return data, nil
}

// U32s decodes a property as a sequence of big-endian 32-bit cells.
func (t *Tree) U32s(node, prop string) ([]uint32, error) {
	data, err := t.Bytes(node, prop)
	if err != nil {
		return nil, err
	}
	if len(data)%4 != 0 {
		return nil, errors.Wrapf(ErrMalformedProperty, "%s/%s: %d bytes is not a whole number of cells", node, prop, len(data))
	}
	cells := make([]uint32, len(data)/4)
	for i := range cells {
		cells[i] = binary.BigEndian.Uint32(data[i*4:])
	}
	return cells, nil
}

// U32 decodes the index-th cell of a property. Asking for a cell past the end
// of the property is a malformed-property error, matching how indexed reads
// fail in the kernel's OF helpers.
func (t *Tree) U32(node, prop string, index int) (uint32, error) {
	cells, err := t.U32s(node, prop)
	if err != nil {
		return 0, err
	}
	if index < 0 || index >= len(cells) {
		return 0, errors.Wrapf(ErrMalformedProperty, "%s/%s: no cell %d (property has %d)", node, prop, index, len(cells))
	}
	return cells[index], nil
}

// String decodes a property holding a single NUL-terminated string.
func (t *Tree) String(node, prop string) (string, error) {
	data, err := t.Bytes(node, prop)
	if err != nil {
		return "", err
	}
	return strings.Trim(string(data), "\x00"), nil
}

// Strings decodes a property holding a list of NUL-terminated strings.
func (t *Tree) Strings(node, prop string) ([]string, error) {
	data, err := t.Bytes(node, prop)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || data[len(data)-1] != 0 {
		return nil, errors.Wrapf(ErrMalformedProperty, "%s/%s: string list not NUL-terminated", node, prop)
	}
	trimmed := strings.Trim(string(data), "\x00")
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\x00"), nil
}

// Compatible returns the node's compatible strings, most specific first.
func (t *Tree) Compatible(node string) ([]string, error) {
	return t.Strings(node, "compatible")
}

// IsCompatible reports whether the node's compatible list contains compat.
func (t *Tree) IsCompatible(node, compat string) bool {
	compats, err := t.Compatible(node)
	if err != nil {
		return false
	}
	for _, c := range compats {
		if c == compat {
			return true
		}
	}
	return false
}

// FindCompatible walks the tree and returns the first node (in lexical walk
// order) whose compatible list contains compat.
func (t *Tree) FindCompatible(compat string) (string, error) {
	var found string
	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
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
		if t.IsCompatible(node, compat) {
			found = node
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrapf(err, "walking device tree for %q", compat)
	}
	if found == "" {
		return "", errors.Wrapf(ErrNodeNotFound, "no node compatible with %q", compat)
	}
	return found, nil
}

// Reg returns the index-th (base, size) pair of a node's reg property,
// decoded with the parent node's #address-cells and #size-cells (defaulting
// to 2 and 1 when the parent doesn't say).
func (t *Tree) Reg(node string, index int) (base, size uint64, err error) {
	parent := filepath.ToSlash(filepath.Dir(filepath.FromSlash(node)))
	addrCells := t.cellCount(parent, "#address-cells", 2)
	sizeCells := t.cellCount(parent, "#size-cells", 1)
	if addrCells > 2 || sizeCells > 2 {
		return 0, 0, errors.Wrapf(ErrMalformedProperty, "%s: parent declares %d address and %d size cells", node, addrCells, sizeCells)
	}

	cells, err := t.U32s(node, "reg")
	if err != nil {
		return 0, 0, err
	}
	stride := addrCells + sizeCells
	if stride == 0 || len(cells)%stride != 0 {
		return 0, 0, errors.Wrapf(ErrMalformedProperty, "%s/reg: %d cells does not divide into (%d+%d)-cell entries", node, len(cells), addrCells, sizeCells)
	}
	if index < 0 || (index+1)*stride > len(cells) {
		return 0, 0, errors.Wrapf(ErrMalformedProperty, "%s/reg: no entry %d", node, index)
	}

	entry := cells[index*stride:]
	for i := 0; i < addrCells; i++ {
		base = base<<32 | uint64(entry[i])
	}
	for i := 0; i < sizeCells; i++ {
		size = size<<32 | uint64(entry[addrCells+i])
	}
	return base, size, nil
}

func (t *Tree) cellCount(node, prop string, def int) int {
	v, err := t.U32(node, prop, 0)
	if err != nil {
		return def
	}
	return int(v)
}
