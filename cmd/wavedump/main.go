// Package main provides wavedump, an offline inspector for GPU queue
// snapshots. Given the control stack and wave save area captured from a
// suspended queue, it decodes every wave and prints its state.
package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/BurntSushi/toml"
	"github.com/alecthomas/kong"

	"github.com/sarchlab/wavedbg/arch"
	"github.com/sarchlab/wavedbg/debug"
	"github.com/sarchlab/wavedbg/internal/log"
	"github.com/sarchlab/wavedbg/loader"
)

var cli struct {
	Config    string   `arg:"" help:"Snapshot descriptor (TOML)." type:"existingfile"`
	Arch      string   `help:"Override the architecture name from the descriptor."`
	Debug     []string `help:"Enable debug logging for modules (wave, queue, event, cache, loader)."`
	Registers bool     `short:"r" help:"Print the first scalar registers of each wave."`
}

// snapshotConfig describes one captured queue snapshot.
type snapshotConfig struct {
	Architecture    string `toml:"architecture"`
	ControlStack    string `toml:"control_stack"`
	SaveArea        string `toml:"save_area"`
	SaveAreaAddress uint64 `toml:"save_area_address"`
	ScratchBase     uint64 `toml:"scratch_base"`
	ScratchSize     uint64 `toml:"scratch_size"`
	CodeObject      string `toml:"code_object"`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("wavedump"),
		kong.Description("Decode a GPU queue snapshot and print its waves."),
		kong.UsageOnError())

	if len(cli.Debug) > 0 {
		log.SetLevel(log.DebugLevel)
		for _, name := range cli.Debug {
			mod, ok := log.ModuleByName(name)
			if !ok {
				kctx.FatalIfErrorf(fmt.Errorf("unknown debug module %q", name))
			}
			log.EnableDebugModules(mod.Mask())
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "wavedump: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg snapshotConfig
	if _, err := toml.DecodeFile(cli.Config, &cfg); err != nil {
		return fmt.Errorf("failed to parse descriptor: %w", err)
	}

	mem := newSparseMemory()

	a, err := resolveArchitecture(&cfg, mem)
	if err != nil {
		return err
	}

	controlStack, err := readControlStack(cfg.ControlStack)
	if err != nil {
		return err
	}

	saveArea, err := os.ReadFile(cfg.SaveArea)
	if err != nil {
		return fmt.Errorf("failed to read save area: %w", err)
	}
	if cfg.SaveAreaAddress < uint64(len(saveArea)) {
		return fmt.Errorf("save area address %#x is below its own size", cfg.SaveAreaAddress)
	}
	// The configured address is the top of the area, the bytes grow
	// downward from it.
	mem.load(cfg.SaveAreaAddress-uint64(len(saveArea)), saveArea)

	driver := &snapshotDriver{
		snapshot: debug.QueueSnapshot{
			ControlStack:    controlStack,
			WaveAreaAddress: cfg.SaveAreaAddress,
			WaveAreaSize:    uint64(len(saveArea)),
			ScratchBase:     cfg.ScratchBase,
			ScratchSize:     cfg.ScratchSize,
		},
		nextAlloc: cfg.SaveAreaAddress + 0x100000,
	}

	proc := debug.NewProcess(driver, mem)
	if _, err := proc.AddQueue(1, a); err != nil {
		return err
	}

	waves, err := proc.Waves()
	if err != nil {
		return err
	}

	// Acknowledge the stop events so the waves report as stopped.
	for e := proc.NextEvent(); e != nil; e = proc.NextEvent() {
		e.SetProcessed()
	}

	return printWaves(proc, a, waves)
}

func resolveArchitecture(cfg *snapshotConfig, mem *sparseMemory) (*arch.Architecture, error) {
	name := cfg.Architecture
	if cli.Arch != "" {
		name = cli.Arch
	}

	var fromObject *arch.Architecture
	if cfg.CodeObject != "" {
		obj, err := loader.Load(cfg.CodeObject)
		if err != nil {
			return nil, err
		}
		fromObject = obj.Architecture
		for _, seg := range obj.Segments {
			mem.load(seg.VirtAddr, seg.Data)
		}
		log.ModLoader.WithField("arch", fromObject.Name()).
			Infof("loaded %s (%d segments)", cfg.CodeObject, len(obj.Segments))
	}

	if name == "" {
		if fromObject == nil {
			return nil, fmt.Errorf("no architecture in descriptor and no code object to infer it from")
		}
		return fromObject, nil
	}

	a, ok := arch.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown architecture %q", name)
	}
	return a, nil
}

func readControlStack(path string) ([]uint32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read control stack: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("control stack size %d is not a multiple of 4", len(raw))
	}
	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return words, nil
}

func printWaves(proc *debug.Process, a *arch.Architecture, waves []*debug.Wave) error {
	fmt.Printf("architecture: %s, %d waves\n\n", a.Name(), len(waves))

	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WAVE\tSTATE\tPC\tEXEC\tGROUP\tPOS\tSTOP REASON")
	for _, w := range waves {
		state, err := proc.WaveState(w.ID())
		if err != nil {
			return err
		}

		pcText, execText, reasonText := "-", "-", "-"
		if state == arch.StateStop {
			pc, err := proc.WavePC(w.ID())
			if err != nil {
				return err
			}
			exec, err := proc.WaveExecMask(w.ID())
			if err != nil {
				return err
			}
			reason, err := proc.WaveStopReason(w.ID())
			if err != nil {
				return err
			}
			pcText = fmt.Sprintf("%#x", pc)
			execText = fmt.Sprintf("%#x", exec)
			reasonText = fmt.Sprintf("%#x", uint32(reason))
		}

		ids := w.GroupIDs()
		fmt.Fprintf(tw, "%d\t%v\t%s\t%s\t(%d,%d,%d)\t%d\t%s\n",
			w.ID(), state, pcText, execText,
			ids[0], ids[1], ids[2], w.PositionInGroup(), reasonText)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if cli.Registers {
		fmt.Println()
		for _, w := range waves {
			if err := printRegisters(proc, w); err != nil {
				return err
			}
		}
	}
	return nil
}

func printRegisters(proc *debug.Process, w *debug.Wave) error {
	state, err := proc.WaveState(w.ID())
	if err != nil || state != arch.StateStop {
		return err
	}

	var regs []string
	buf := make([]byte, 4)
	for i := 0; i < 16; i++ {
		if err := proc.ReadWaveRegister(w.ID(), arch.Sgpr(i), buf); err != nil {
			return err
		}
		regs = append(regs, fmt.Sprintf("s%d=%#x", i, binary.LittleEndian.Uint32(buf)))
	}
	fmt.Printf("wave %d: %s\n", w.ID(), strings.Join(regs, " "))
	return nil
}

// sparseMemory backs the snapshot's address space with 4 KiB pages.
// Reads of unmapped addresses fail; writes map pages on demand, which
// lets the debugger place its park instructions anywhere.
type sparseMemory struct {
	pages map[uint64][]byte
}

const pageSize = 0x1000

func newSparseMemory() *sparseMemory {
	return &sparseMemory{pages: make(map[uint64][]byte)}
}

func (m *sparseMemory) load(addr uint64, data []byte) {
	for len(data) > 0 {
		page, off := addr/pageSize, addr%pageSize
		p, ok := m.pages[page]
		if !ok {
			p = make([]byte, pageSize)
			m.pages[page] = p
		}
		n := copy(p[off:], data)
		data = data[n:]
		addr += uint64(n)
	}
}

func (m *sparseMemory) ReadGlobal(addr uint64, buf []byte) error {
	for len(buf) > 0 {
		page, off := addr/pageSize, addr%pageSize
		p, ok := m.pages[page]
		if !ok {
			return fmt.Errorf("unmapped address %#x", addr)
		}
		n := copy(buf, p[off:])
		buf = buf[n:]
		addr += uint64(n)
	}
	return nil
}

func (m *sparseMemory) WriteGlobal(addr uint64, data []byte) error {
	m.load(addr, data)
	return nil
}

// snapshotDriver replays one captured suspension. Suspends hand back
// the recorded snapshot, resumes do nothing, and allocations come from
// a bump pointer above the save area.
type snapshotDriver struct {
	snapshot  debug.QueueSnapshot
	nextAlloc uint64
}

func (d *snapshotDriver) SuspendQueue(queueID uint64) (debug.QueueSnapshot, error) {
	return d.snapshot, nil
}

func (d *snapshotDriver) ResumeQueue(queueID uint64) error { return nil }

func (d *snapshotDriver) AllocateGlobal(size int) (uint64, error) {
	addr := d.nextAlloc
	d.nextAlloc += (uint64(size) + 0xFF) &^ 0xFF
	return addr, nil
}

func (d *snapshotDriver) FreeGlobal(addr uint64) error { return nil }
