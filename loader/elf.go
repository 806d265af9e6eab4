// Package loader inspects AMD GPU code-object ELF files and resolves
// the architecture they were compiled for.
package loader

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/wavedbg/arch"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// efAMDGPUMachMask selects the EF_AMDGPU_MACH field of e_flags.
const efAMDGPUMachMask = 0x0ff

// e_flags lives at byte 48 of the ELF64 header. debug/elf does not
// surface it, so it is read from the raw header.
const elf64FlagsOffset = 48

// Segment represents a loadable segment from a code object.
type Segment struct {
	// VirtAddr is the virtual address where this segment should be loaded.
	VirtAddr uint64
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint64
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// CodeObject represents a parsed AMD GPU code object.
type CodeObject struct {
	// Architecture is the GPU generation the object was compiled for.
	Architecture *arch.Architecture
	// EntryPoint is the virtual address of the first kernel descriptor,
	// when the object declares one.
	EntryPoint uint64
	// Segments contains all loadable segments from the ELF file.
	Segments []Segment
}

// Load parses an AMD GPU code-object ELF file.
func Load(path string) (*CodeObject, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open code object: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Read(f)
}

// Read parses an AMD GPU code object from r.
func Read(r io.ReaderAt) (*CodeObject, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ELF: %w", err)
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("not a 64-bit ELF file")
	}
	if f.Machine != elf.EM_AMDGPU {
		return nil, fmt.Errorf("not an AMD GPU code object (machine type: %v)", f.Machine)
	}

	machine, err := readFlags(r)
	if err != nil {
		return nil, err
	}
	a, ok := arch.LookupELFMachine(machine & efAMDGPUMachMask)
	if !ok {
		return nil, fmt.Errorf("unsupported gpu architecture (EF_AMDGPU_MACH: %#x)",
			machine&efAMDGPUMachMask)
	}

	obj := &CodeObject{
		Architecture: a,
		EntryPoint:   f.Entry,
	}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		obj.Segments = append(obj.Segments, Segment{
			VirtAddr: phdr.Vaddr,
			Data:     data,
			MemSize:  phdr.Memsz,
			Flags:    flags,
		})
	}

	return obj, nil
}

func readFlags(r io.ReaderAt) (uint32, error) {
	var buf [4]byte
	if _, err := r.ReadAt(buf[:], elf64FlagsOffset); err != nil {
		return 0, fmt.Errorf("failed to read ELF header flags: %w", err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
