package layout

import (
	"sort"

	"github.com/tinytapeout/hdlwasm/errors"
	"github.com/tinytapeout/hdlwasm/ir"
	"github.com/tinytapeout/hdlwasm/sizemodel"
)

const wasmPageSize = 65536

// Config controls how a Struct is built.
type Config struct {
	// TraceDepth is the number of trace records the ring buffer holds.
	// Zero defaults to 64.
	TraceDepth int

	// MaxMemoryMB caps total linear memory. Zero defaults to 16 MiB.
	MaxMemoryMB int
}

func (c Config) traceDepth() int {
	if c.TraceDepth <= 0 {
		return 64
	}
	return c.TraceDepth
}

func (c Config) maxBytes() uint32 {
	mb := c.MaxMemoryMB
	if mb <= 0 {
		mb = 16
	}
	return uint32(mb) * 1024 * 1024
}

// Entry describes one variable's home in the state buffer.
type Entry struct {
	ConstValue *ir.ConstValue
	InitValue  []ir.InitElem
	Name       string
	DType      ir.DType
	Offset     uint32
	Size       uint32
	Chunks     int
	Index      int
	IsInput    bool
	IsOutput   bool
	IsParam    bool
	IsConst    bool
	ResetFlag  bool
}

// Struct is the built layout record for one module plus its constant pool.
type Struct struct {
	Vars  map[string]*Entry
	Order []string

	OutputBytes uint32 // multiple of 8; the trace record size
	MetaOffset  uint32 // start of the 3 u32 metadata words
	TraceOffset uint32 // start of the ring buffer (TRACEOFS initial value)
	TraceEnd    uint32 // TRACEEND
	TraceDepth  int
	TotalBytes  uint32
	Pages       uint32
}

// Lookup returns the entry for name, mirroring the host-facing
// globals.lookup(name) -> {offset, size, dtype} API from spec §6.
func (s *Struct) Lookup(name string) (*Entry, bool) {
	e, ok := s.Vars[name]
	return e, ok
}

func pad8(n uint32) uint32 {
	if rem := n % 8; rem != 0 {
		n += 8 - rem
	}
	return n
}

// Build lays out mod's variables followed by pool's shared constants,
// following the algorithm in spec §4.B.
func Build(mod *ir.ModuleDef, pool *ir.ModuleDef, cfg Config) (*Struct, error) {
	s := &Struct{
		Vars:       make(map[string]*Entry),
		TraceDepth: cfg.traceDepth(),
	}

	var nonConst, constVars []*ir.VarDef
	for _, name := range mod.VarOrder {
		v := mod.VarDefs[name]
		if v.IsConst() {
			constVars = append(constVars, v)
		} else {
			nonConst = append(nonConst, v)
		}
	}

	// Outputs first, then by size descending; stable so ties keep
	// declaration order (invariant 1, 2).
	sort.SliceStable(nonConst, func(i, j int) bool {
		a, b := nonConst[i], nonConst[j]
		if a.IsOutput != b.IsOutput {
			return a.IsOutput
		}
		return sizemodel.DTypeSize(a.Type) > sizemodel.DTypeSize(b.Type)
	})

	var offset uint32
	idx := 0

	emplace := func(v *ir.VarDef, isConst bool) {
		size := sizemodel.DTypeSize(v.Type)
		align := sizemodel.DTypeAlign(v.Type)
		if rem := offset % align; rem != 0 {
			offset += align - rem
		}
		e := &Entry{
			Name:       v.Name,
			DType:      v.Type,
			Offset:     offset,
			Size:       size,
			Index:      idx,
			IsInput:    v.IsInput,
			IsOutput:   v.IsOutput,
			IsParam:    v.IsParam,
			IsConst:    isConst,
			ResetFlag:  !isConst && !v.IsParam,
			InitValue:  v.InitValue,
			ConstValue: v.ConstValue,
		}
		if v.Type.Kind == ir.KindLogic {
			e.Chunks = sizemodel.Chunks(v.Type.Width())
		}
		s.Vars[v.Name] = e
		s.Order = append(s.Order, v.Name)
		offset += size
		idx++
	}

	// Step 3: outputs occupy the first contiguous bytes.
	outputsEnd := 0
	for i, v := range nonConst {
		if !v.IsOutput {
			outputsEnd = i
			break
		}
		outputsEnd = i + 1
	}
	for _, v := range nonConst[:outputsEnd] {
		emplace(v, false)
	}
	offset = pad8(offset)
	s.OutputBytes = offset

	// Step 4: remaining non-constants.
	for _, v := range nonConst[outputsEnd:] {
		emplace(v, false)
	}
	offset = pad8(offset)

	// Step 5: this module's constants, then the shared pool's.
	for _, v := range constVars {
		emplace(v, true)
	}
	if pool != nil {
		for _, name := range pool.VarOrder {
			emplace(pool.VarDefs[name], true)
		}
	}
	offset = pad8(offset)

	// Step 6: metadata trailer + trace ring buffer.
	s.MetaOffset = offset
	offset += 4 * 3
	s.TraceOffset = offset
	offset += uint32(s.TraceDepth) * s.OutputBytes
	s.TraceEnd = offset

	s.TotalBytes = offset

	if s.TotalBytes > cfg.maxBytes() {
		return nil, errors.MemoryLimitExceeded(s.TotalBytes, cfg.maxBytes())
	}

	s.Pages = (s.TotalBytes + wasmPageSize - 1) / wasmPageSize
	if s.Pages == 0 {
		s.Pages = 1
	}

	return s, nil
}
