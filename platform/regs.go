package platform

// Physical register file memory layout, ported from the original
// implementation's aplic.h. Offsets are byte offsets from the domain
// block's base address; the per-hart IDC block starts at HartBlockOffset
// and repeats every HartBlockStride bytes.
const (
	OffDomainCfg   = 0x0000
	OffSourceCfg   = 0x0004 // array, one uint32 per identity 1..MaxSources
	OffSetIP       = 0x1C00 // array, BitmapWords uint32s
	OffSetIPNum    = 0x1CDC
	OffInClrIP     = 0x1D00 // array, BitmapWords uint32s
	OffClrIPNum    = 0x1DDC
	OffSetIE       = 0x1E00 // array, BitmapWords uint32s
	OffSetIENum    = 0x1EDC
	OffClrIE       = 0x1F00 // array, BitmapWords uint32s
	OffClrIENum    = 0x1FDC
	OffSetIPNumLE  = 0x2000
	OffSetIPNumBE  = 0x2004
	OffGenMSI      = 0x3000
	OffTarget      = 0x3004 // array, one uint32 per identity 1..MaxSources

	HartBlockOffset = 0x4000
	HartBlockStride = 0x20

	OffIDCIDelivery  = 0x00
	OffIDCIForce     = 0x04
	OffIDCIThreshold = 0x08
	OffIDCTopI       = 0x18
	OffIDCClaimI     = 0x1C
)

// DomainCfg bit layout.
const (
	DomainCfgIE  uint32 = 1 << 8  // interrupt enable
	DomainCfgDM  uint32 = 1 << 2  // delivery mode: 0=direct, 1=MSI
	DomainCfgRO  uint32 = 0x80 << 24
)

// SourceCfg bit layout.
const (
	SrcCfgDelegate uint32 = 1 << 10
	SrcCfgSMMask   uint32 = 0x7
)

// Target register bit layout, direct mode.
const (
	TargetHartIdxShift = 18
	TargetHartIdxMask  = 0x3FFF
	TargetIPrioMask    = 0xFF
)

// Target register bit layout, MSI mode.
const (
	TargetGuestIdxShift = 12
	TargetGuestIdxMask  = 0x3F
	TargetEEIDMask      = 0x7FF
)

// IRQC virtual-id / implementation-id layering (spec §4.3): identities
// below NWireMax address PCTRL sources directly; identities at or above
// MSIIDBase address MSI-EXT events, with the event id recovered as
// (id - MSIIDBase). SoftIntID and TimerIntID are reserved above both
// ranges for the software and timer interrupts the upper dispatcher
// services directly, never routing them through IRQC's claim loop.
//
// MSIIDBase is an id-space offset, unrelated to Config.MsiBase (the
// physical MMIO address of the IMSIC pages).
const (
	NWireMax   uint32 = MaxSources + 1
	MSIIDBase  uint32 = 0x10000
	SoftIntID  uint32 = 0x20000
	TimerIntID uint32 = 0x20001
)

// reservedRange is a half-open byte range [Low, High) that always reads
// zero and discards writes. Using a data table rather than hand-computed
// padding arithmetic keeps the reserved-gap logic in one place and makes
// it trivial to verify against the layout table above.
type reservedRange struct{ Low, High uint32 }

// ReservedRanges returns the gaps in the domain block for a controller
// configured with the given source count. Ranges that depend on
// SourceCount (the tail of the sourcecfg/target arrays) are computed from
// it; the fixed small gaps between per-register-class arrays are literal.
func (c *Config) ReservedRanges() []reservedRange {
	srcCfgEnd := OffSourceCfg + c.SourceCount*4
	targetEnd := OffTarget + c.SourceCount*4
	return []reservedRange{
		{srcCfgEnd, OffSetIP},
		{OffSetIP + uint32(c.bitmapWords())*4, OffSetIPNum},
		{OffSetIPNum + 4, OffInClrIP},
		{OffInClrIP + uint32(c.bitmapWords())*4, OffClrIPNum},
		{OffClrIPNum + 4, OffSetIE},
		{OffSetIE + uint32(c.bitmapWords())*4, OffSetIENum},
		{OffSetIENum + 4, OffClrIE},
		{OffClrIE + uint32(c.bitmapWords())*4, OffClrIENum},
		{OffClrIENum + 4, OffSetIPNumLE},
		{OffSetIPNumBE + 4, OffGenMSI},
		{OffGenMSI + 4, OffTarget},
		{targetEnd, HartBlockOffset},
	}
}

// IsReserved reports whether off falls in a reserved gap for this config.
// Reads of a reserved offset yield 0; writes are discarded.
func (c *Config) IsReserved(off uint32) bool {
	if off >= HartBlockOffset {
		return false // per-hart block handled separately by caller
	}
	for _, r := range c.ReservedRanges() {
		if off >= r.Low && off < r.High {
			return true
		}
	}
	return false
}
