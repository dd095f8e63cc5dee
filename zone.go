package peal

// Zone is a single shared control cell. Its identity is its address: two
// widgets refer to the same control exactly when they hold the same *Zone.
// Zones are owned by the Instance whose declaration pass emitted them and
// stay valid for the whole lifetime of that Instance.
//
// Zone reads and writes are plain single-word loads and stores, on purpose.
// The real-time compute context reads zones without synchronization while the
// MIDI and UI contexts write them; torn or stale reads of a float32 are the
// accepted tradeoff for never taking a lock on the audio path.
type Zone struct {
	value float32
}

func (z *Zone) Value() float32 { return z.value }

func (z *Zone) Set(v float32) { z.value = v }
