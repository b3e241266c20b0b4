package barrier

// sensePhase packs the barrier's sense bit and monotonic phase counter into
// one 64-bit word so a single CAS can advance the phase and flip sense
// together. Adapted from the teacher's Roundabout header
// (epoch<<48|flags<<32|bitmap, tef-crow/roundabout.go): same "one word, one
// CAS" packing rationale, different field split.
type sensePhase struct {
	sense bool
	phase int64
}

func (s sensePhase) pack() uint64 {
	var b uint64
	if s.sense {
		b = 1 << 63
	}
	return b | (uint64(s.phase) & (1<<63 - 1))
}

func unpackSensePhase(w uint64) sensePhase {
	return sensePhase{
		sense: w&(1<<63) != 0,
		phase: int64(w & (1<<63 - 1)),
	}
}

// parityWaiting packs the trigger parity bit together with the active and
// waiting thread counts, so Trigger can atomically rotate parity while
// reading the exact (active, waiting) pair it needs to decide whether to
// deactivate eagerly.
type parityWaiting struct {
	parity  bool
	active  int32
	waiting int32
}

func (p parityWaiting) pack() uint64 {
	var b uint64
	if p.parity {
		b = 1 << 63
	}
	b |= uint64(uint32(p.active)&0x7fffffff) << 31
	b |= uint64(uint32(p.waiting) & 0x7fffffff)
	return b
}

func unpackParityWaiting(w uint64) parityWaiting {
	return parityWaiting{
		parity:  w&(1<<63) != 0,
		active:  int32((w >> 31) & 0x7fffffff),
		waiting: int32(w & 0x7fffffff),
	}
}
