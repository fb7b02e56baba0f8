package accumulator

import "math/rand"

// SimChain is for testing and simulation; it spits out "blocks" of adds and
// deletes.  Every generated leaf is unique, and every leaf with a finite
// duration comes back as a deletion once its time-to-live runs out.
type SimChain struct {
	// ttlSlices is when the hashes get removed
	ttlSlices    [][]Hash
	blockHeight  int32
	leafCounter  uint64
	durationMask uint32
	rnd          *rand.Rand
}

// NewSimChain initializes and returns a SimChain.  durationMask caps leaf
// lifetimes at durationMask+1 blocks.
func NewSimChain(durationMask uint32) *SimChain {
	var s SimChain
	s.blockHeight = -1
	s.durationMask = durationMask
	s.ttlSlices = make([][]Hash, s.durationMask+2)
	s.rnd = rand.New(rand.NewSource(0x600d5eed))
	return &s
}

// NextBlock outputs the additions and deletions for the next simulated
// block.
func (s *SimChain) NextBlock(numAdds uint32) (adds, delHashes []Hash) {
	s.blockHeight++

	if s.blockHeight == 0 && numAdds == 0 {
		numAdds = 1
	}

	// dels are whatever expires this block
	delHashes = s.ttlSlices[0]
	s.ttlSlices = append(s.ttlSlices[1:], []Hash{})

	adds = make([]Hash, numAdds)
	for j := range adds {
		adds[j][0] = uint8(s.leafCounter)
		adds[j][1] = uint8(s.leafCounter >> 8)
		adds[j][2] = uint8(s.leafCounter >> 16)
		adds[j][3] = 0xff
		adds[j][4] = uint8(s.leafCounter >> 24)
		adds[j][5] = uint8(s.leafCounter >> 32)

		duration := int32(s.rnd.Uint32() & s.durationMask)

		// the first leaf lives forever; it keeps the forest from ever
		// emptying out, which isn't an interesting case to repeat.
		if s.blockHeight == 0 && j == 0 {
			duration = 0
		}

		if duration != 0 {
			s.ttlSlices[duration-1] =
				append(s.ttlSlices[duration-1], adds[j])
		}
		s.leafCounter++
	}

	return adds, delHashes
}
