// Package pefile reads the headers, sections and export table of PE images
// on disk, enough to find an exported function and read its code.
package pefile

import (
	"bytes"
	"fmt"
	"os"

	"github.com/Binject/debug/pe"
	"github.com/pkg/errors"
)

type PeType int

const (
	Pe32 PeType = iota
	Pe32p
)

// index of the export table in the data directories
const exportDirectory = 0

type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

type Section struct {
	Name           string
	VirtualAddress uint32
	VirtualSize    uint32
	Offset         uint32
	Size           uint32
	Raw            []byte
}

// Export is a named entry of the export table. Forward holds the
// "module.function" string of a forwarded export, whose Rva points into the
// export table instead of code.
type Export struct {
	Name    string
	Rva     uint32
	Forward string
}

func (e Export) Forwarded() bool {
	return e.Forward != ""
}

type PeFile struct {
	Path          string
	PeType        PeType
	Machine       uint16
	ImageBase     uint64
	Sections      []*Section
	Exports       []Export
	ExportNameMap map[string]Export
	exports       DataDirectory
}

func (self *PeFile) String() string {
	return fmt.Sprintf("{ Path: %s }", self.Path)
}

// Mode returns the x86 operand size of the image, 32 or 64.
func (self *PeFile) Mode() int {
	if self.PeType == Pe32p {
		return 64
	}
	return 32
}

// LoadPeFile parses the PE image at path.
func LoadPeFile(path string) (*PeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return LoadPeBytes(data, path)
}

// LoadPeBytes parses a PE image held in memory in its on-disk layout.
func LoadPeBytes(data []byte, name string) (*PeFile, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", name)
	}
	defer f.Close()

	self := &PeFile{Path: name, Machine: f.FileHeader.Machine}
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		self.PeType = Pe32
		self.ImageBase = uint64(oh.ImageBase)
		if oh.NumberOfRvaAndSizes > exportDirectory {
			dd := oh.DataDirectory[exportDirectory]
			self.exports = DataDirectory{dd.VirtualAddress, dd.Size}
		}
	case *pe.OptionalHeader64:
		self.PeType = Pe32p
		self.ImageBase = oh.ImageBase
		if oh.NumberOfRvaAndSizes > exportDirectory {
			dd := oh.DataDirectory[exportDirectory]
			self.exports = DataDirectory{dd.VirtualAddress, dd.Size}
		}
	default:
		return nil, errors.Errorf("%s has no optional header", name)
	}

	for _, s := range f.Sections {
		raw, err := s.Data()
		if err != nil {
			return nil, errors.Wrapf(err, "reading section %s of %s", s.Name, name)
		}
		self.Sections = append(self.Sections, &Section{
			Name:           s.Name,
			VirtualAddress: s.VirtualAddress,
			VirtualSize:    s.VirtualSize,
			Offset:         s.Offset,
			Size:           s.Size,
			Raw:            raw,
		})
	}

	if err := self.readExports(f); err != nil {
		return nil, err
	}
	return self, nil
}

func (self *PeFile) readExports(f *pe.File) error {
	self.ExportNameMap = make(map[string]Export)
	if self.exports.Size == 0 {
		return nil
	}
	exports, err := f.Exports()
	if err != nil {
		return errors.Wrapf(err, "reading exports of %s", self.Path)
	}
	for _, e := range exports {
		if e.Name == "" {
			continue
		}
		export := Export{Name: e.Name, Rva: e.VirtualAddress}
		if self.inExportTable(e.VirtualAddress) {
			if raw, err := self.ReadRva(e.VirtualAddress, 256); err == nil {
				export.Forward = readString(raw)
			}
		}
		self.Exports = append(self.Exports, export)
		self.ExportNameMap[export.Name] = export
	}
	return nil
}

func (self *PeFile) inExportTable(rva uint32) bool {
	return rva >= self.exports.VirtualAddress && rva < self.exports.VirtualAddress+self.exports.Size
}

func (self *PeFile) sectionByRva(rva uint32) *Section {
	for _, s := range self.Sections {
		size := s.VirtualSize
		if size == 0 {
			size = s.Size
		}
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+size {
			return s
		}
	}
	return nil
}

// ReadRva returns up to n bytes of file data mapped at rva. The result is
// shorter when the section data ends first.
func (self *PeFile) ReadRva(rva uint32, n int) ([]byte, error) {
	s := self.sectionByRva(rva)
	if s == nil {
		return nil, errors.Errorf("rva 0x%x of %s is not in a section", rva, self.Path)
	}
	off := int(rva - s.VirtualAddress)
	if off >= len(s.Raw) {
		return nil, errors.Errorf("rva 0x%x of %s has no file data", rva, self.Path)
	}
	end := off + n
	if end > len(s.Raw) {
		end = len(s.Raw)
	}
	return s.Raw[off:end], nil
}

func readString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
