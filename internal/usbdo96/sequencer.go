package usbdo96

import "fmt"

// Control port B values. Bit 0 enables the board; bits 1..6 select groups.
const (
	controlDisabled byte = 0x00
	controlEnable   byte = 0x01
	controlAll      byte = 0xFF
)

// Delta is a requested change set: channel -> desired on/off. Channels not
// present keep their current value.
type Delta map[Channel]bool

// DeltaOf builds a delta from on/off lists. A channel present in both fails
// with ErrConflictingRequest.
func DeltaOf(on, off []Channel) (Delta, error) {
	if err := ValidateChannels(on...); err != nil {
		return nil, err
	}
	if err := ValidateChannels(off...); err != nil {
		return nil, err
	}

	delta := make(Delta, len(on)+len(off))
	for _, ch := range on {
		delta[ch] = true
	}
	for _, ch := range off {
		if delta[ch] {
			return nil, fmt.Errorf("%w: %d", ErrConflictingRequest, int(ch))
		}
		delta[ch] = false
	}
	return delta, nil
}

// AllChannels returns a delta driving every channel to on.
func AllChannels(on bool) Delta {
	delta := make(Delta, NumChannels)
	for ch := Channel(1); ch <= NumChannels; ch++ {
		delta[ch] = on
	}
	return delta
}

// Change is one channel whose recorded value differs after a commit.
type Change struct {
	Channel Channel `json:"channel"`
	On      bool    `json:"on"`
}

// Cluster is a set of dirty groups latched by a single rising edge on port B,
// all sharing the same data port bytes.
type Cluster struct {
	C      byte
	D      byte
	Groups []int
}

// ControlByte is the port B value whose 0->1 group bits latch the cluster.
func (c Cluster) ControlByte() byte {
	b := controlEnable
	for _, g := range c.Groups {
		b |= 1 << uint(g)
	}
	return b
}

// Frames renders the cluster commit: data bytes, latch reset, rising edge.
func (c Cluster) Frames() []CommandFrame {
	return []CommandFrame{
		EncodeWrite(PortC, c.C),
		EncodeWrite(PortD, c.D),
		EncodeWrite(PortB, controlEnable),
		EncodeWrite(PortB, c.ControlByte()),
	}
}

// Plan is the result of sequencing a delta: the frames to send, in order,
// and the state to commit once all of them were sent.
type Plan struct {
	Clusters []Cluster
	Frames   []CommandFrame
	Changed  []Change
	Next     State
}

// Empty reports whether the plan touches no group.
func (p Plan) Empty() bool {
	return len(p.Frames) == 0
}

// Sequence computes the frame plan that moves the hardware from current to
// current+delta. Clean groups get no frames; dirty groups sharing a byte
// pair are committed together.
func Sequence(current State, delta Delta) (Plan, error) {
	return sequence(current, delta, false)
}

// SequenceForced is Sequence with every group addressed by delta treated as
// dirty, whether or not its word changed. Resetting all channels this way
// always yields a single cluster latching all six groups.
func SequenceForced(current State, delta Delta) (Plan, error) {
	return sequence(current, delta, true)
}

func sequence(current State, delta Delta, force bool) (Plan, error) {
	for ch := range delta {
		if !ch.Valid() {
			return Plan{}, fmt.Errorf("%w: %d", ErrOutOfRange, int(ch))
		}
	}

	var addressed [NumGroups]bool
	next := current
	for ch, on := range delta {
		next.set(ch, on)
		addressed[(int(ch)-1)/ChannelsPerGroup] = true
	}

	plan := Plan{Next: next}

	for ch := Channel(1); ch <= NumChannels; ch++ {
		if before, after := current.isOn(ch), next.isOn(ch); before != after {
			plan.Changed = append(plan.Changed, Change{Channel: ch, On: after})
		}
	}

	// Clusters are kept in order of their lowest group.
	clusters := make(map[uint16]*Cluster)
	order := make([]uint16, 0, NumGroups)

	for g := 1; g <= NumGroups; g++ {
		word := next.GroupWord(g)
		dirty := word != current.GroupWord(g) || (force && addressed[g-1])
		if !dirty {
			continue
		}

		cluster, ok := clusters[word]
		if !ok {
			c, d := next.GroupBytes(g)
			cluster = &Cluster{C: c, D: d}
			clusters[word] = cluster
			order = append(order, word)
		}
		cluster.Groups = append(cluster.Groups, g)
	}

	for _, word := range order {
		cluster := *clusters[word]
		plan.Clusters = append(plan.Clusters, cluster)
		plan.Frames = append(plan.Frames, cluster.Frames()...)
	}

	if n := len(plan.Clusters); n > 0 {
		last := plan.Clusters[n-1]
		plan.Next.lastC = last.C
		plan.Next.lastD = last.D
	}

	return plan, nil
}

// initFrames is the session start-up sequence: all ports to output, board
// disabled with zeroed data, every group latched at once, latch reset.
func initFrames() []CommandFrame {
	return []CommandFrame{
		EncodeConfigure(PortB),
		EncodeConfigure(PortC),
		EncodeConfigure(PortD),
		EncodeWrite(PortB, controlDisabled),
		EncodeWrite(PortC, 0x00),
		EncodeWrite(PortD, 0x00),
		EncodeWrite(PortB, controlAll),
		EncodeWrite(PortB, controlEnable),
	}
}
