package usbdo96

import "fmt"

const (
	NumChannels      = 96
	NumGroups        = 6
	ChannelsPerGroup = 16
	bitsPerPort      = 8
)

// Channel is a 1-based digital output number (DO01..DO96).
type Channel int

func (ch Channel) Valid() bool {
	return ch >= 1 && ch <= NumChannels
}

func (ch Channel) String() string {
	return fmt.Sprintf("DO%02d", int(ch))
}

// SubPort selects which data port (C or D) carries a channel's bit.
type SubPort int

const (
	SubPortC SubPort = iota
	SubPortD
)

func (sp SubPort) String() string {
	switch sp {
	case SubPortC:
		return "C"
	case SubPortD:
		return "D"
	default:
		return fmt.Sprintf("SubPort(%d)", int(sp))
	}
}

// Address locates a channel in the latch hardware: the group whose control
// bit on port B latches it, the data port and the bit within that byte.
type Address struct {
	Group   int
	SubPort SubPort
	Bit     uint8
}

// AddressOf maps a channel to its group/sub-port/bit.
func AddressOf(ch Channel) (Address, error) {
	if !ch.Valid() {
		return Address{}, fmt.Errorf("%w: %d", ErrOutOfRange, int(ch))
	}

	idx := int(ch) - 1
	local := idx % ChannelsPerGroup

	addr := Address{
		Group:   idx/ChannelsPerGroup + 1,
		SubPort: SubPortC,
		Bit:     uint8(local),
	}
	if local >= bitsPerPort {
		addr.SubPort = SubPortD
		addr.Bit = uint8(local - bitsPerPort)
	}

	return addr, nil
}

// Channel is the inverse of AddressOf. The address must be valid.
func (a Address) Channel() Channel {
	return Channel((a.Group-1)*ChannelsPerGroup + int(a.SubPort)*bitsPerPort + int(a.Bit) + 1)
}

// wordBit is the position of the address inside its 16-bit group word.
func (a Address) wordBit() uint {
	return uint(a.SubPort)*bitsPerPort + uint(a.Bit)
}

func (a Address) String() string {
	return fmt.Sprintf("group %d %s%d", a.Group, a.SubPort, a.Bit)
}

// GroupChannels returns the 8 channels controlled by one byte of one
// sub-port in one group, indexed by bit.
func GroupChannels(group int, sp SubPort) ([bitsPerPort]Channel, error) {
	var chs [bitsPerPort]Channel

	if group < 1 || group > NumGroups {
		return chs, fmt.Errorf("invalid group: %d", group)
	}
	if sp != SubPortC && sp != SubPortD {
		return chs, fmt.Errorf("invalid sub-port: %s", sp)
	}

	for bit := range chs {
		chs[bit] = Address{Group: group, SubPort: sp, Bit: uint8(bit)}.Channel()
	}
	return chs, nil
}

// ValidateChannels fails with ErrOutOfRange on the first id outside [1,96].
func ValidateChannels(chs ...Channel) error {
	for _, ch := range chs {
		if !ch.Valid() {
			return fmt.Errorf("%w: %d", ErrOutOfRange, int(ch))
		}
	}
	return nil
}
