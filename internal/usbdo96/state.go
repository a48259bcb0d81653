package usbdo96

// State is the in-memory record of every channel's on/off value plus the
// bytes last written to the two data ports. Each group's value is kept as a
// 16-bit word: bits 0-7 map to sub-port C, bits 8-15 to sub-port D.
//
// The zero value is "all channels off".
type State struct {
	words [NumGroups]uint16
	lastC byte
	lastD byte
}

// IsOn reports whether ch is recorded as on.
func (s State) IsOn(ch Channel) (bool, error) {
	addr, err := AddressOf(ch)
	if err != nil {
		return false, err
	}
	return s.words[addr.Group-1]&(1<<addr.wordBit()) != 0, nil
}

// GroupWord returns the 16-bit word of group g (1-based).
func (s State) GroupWord(g int) uint16 {
	if g < 1 || g > NumGroups {
		return 0
	}
	return s.words[g-1]
}

// GroupBytes splits a group word into the (C, D) byte pair that latches it.
func (s State) GroupBytes(g int) (c, d byte) {
	w := s.GroupWord(g)
	return byte(w), byte(w >> 8)
}

func (s State) LastC() byte { return s.lastC }
func (s State) LastD() byte { return s.lastD }

// OnChannels lists every channel recorded as on, ascending.
func (s State) OnChannels() []Channel {
	on := make([]Channel, 0)
	for ch := Channel(1); ch <= NumChannels; ch++ {
		if s.isOn(ch) {
			on = append(on, ch)
		}
	}
	return on
}

// Values returns all 96 channel values; index 0 is DO01.
func (s State) Values() [NumChannels]bool {
	var values [NumChannels]bool
	for ch := Channel(1); ch <= NumChannels; ch++ {
		values[ch-1] = s.isOn(ch)
	}
	return values
}

func (s State) isOn(ch Channel) bool {
	on, _ := s.IsOn(ch)
	return on
}

// set assumes ch was validated.
func (s *State) set(ch Channel, on bool) {
	addr, _ := AddressOf(ch)
	mask := uint16(1) << addr.wordBit()
	if on {
		s.words[addr.Group-1] |= mask
	} else {
		s.words[addr.Group-1] &^= mask
	}
}
