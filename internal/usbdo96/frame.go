package usbdo96

import "fmt"

// FrameSize is the length of every message on the wire: command byte + value.
const FrameSize = 2

// Command codes. Port D's write command is 'J', not the sequential 'I'.
const (
	CmdReadB      byte = 0x41 // 'A'
	CmdConfigureB byte = 0x42 // 'B'
	CmdWriteB     byte = 0x43 // 'C'
	CmdReadC      byte = 0x44 // 'D'
	CmdConfigureC byte = 0x45 // 'E'
	CmdWriteC     byte = 0x46 // 'F'
	CmdReadD      byte = 0x47 // 'G'
	CmdConfigureD byte = 0x48 // 'H'
	CmdWriteD     byte = 0x4A // 'J'
)

// Port is one of the three controlled 8-bit ports of the card.
type Port int

const (
	PortB Port = iota
	PortC
	PortD
)

func (p Port) String() string {
	switch p {
	case PortB:
		return "B"
	case PortC:
		return "C"
	case PortD:
		return "D"
	default:
		return fmt.Sprintf("Port(%d)", int(p))
	}
}

// Action is the operation a command performs on its port.
type Action int

const (
	ActionRead Action = iota
	ActionConfigure
	ActionWrite
)

func (a Action) String() string {
	switch a {
	case ActionRead:
		return "read"
	case ActionConfigure:
		return "configure"
	case ActionWrite:
		return "write"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

var commandCodes = [3][3]byte{
	PortB: {ActionRead: CmdReadB, ActionConfigure: CmdConfigureB, ActionWrite: CmdWriteB},
	PortC: {ActionRead: CmdReadC, ActionConfigure: CmdConfigureC, ActionWrite: CmdWriteC},
	PortD: {ActionRead: CmdReadD, ActionConfigure: CmdConfigureD, ActionWrite: CmdWriteD},
}

// CommandCode looks up the command byte for a port/action pair.
func CommandCode(p Port, a Action) (byte, error) {
	if p < PortB || p > PortD {
		return 0, fmt.Errorf("unknown port: %s", p)
	}
	if a < ActionRead || a > ActionWrite {
		return 0, fmt.Errorf("unknown action: %s", a)
	}
	return commandCodes[p][a], nil
}

// CommandFrame is a single 2-byte protocol message.
type CommandFrame struct {
	Code  byte
	Value byte
}

// Encode renders the frame in wire order.
func (f CommandFrame) Encode() []byte {
	return []byte{f.Code, f.Value}
}

// DecodeFrame parses exactly one frame and rejects unknown command codes.
func DecodeFrame(data []byte) (CommandFrame, error) {
	if len(data) != FrameSize {
		return CommandFrame{}, fmt.Errorf("frame must be %d bytes, got %d", FrameSize, len(data))
	}

	frame := CommandFrame{Code: data[0], Value: data[1]}
	if _, _, ok := frame.lookup(); !ok {
		return CommandFrame{}, fmt.Errorf("unknown command code: 0x%02X", frame.Code)
	}

	return frame, nil
}

func (f CommandFrame) lookup() (Port, Action, bool) {
	for p, actions := range commandCodes {
		for a, code := range actions {
			if code == f.Code {
				return Port(p), Action(a), true
			}
		}
	}
	return 0, 0, false
}

// Port returns the addressed port; ok is false for unknown codes.
func (f CommandFrame) Port() (Port, bool) {
	p, _, ok := f.lookup()
	return p, ok
}

// Action returns the command's action; ok is false for unknown codes.
func (f CommandFrame) Action() (Action, bool) {
	_, a, ok := f.lookup()
	return a, ok
}

func (f CommandFrame) String() string {
	p, a, ok := f.lookup()
	if !ok {
		return fmt.Sprintf("0x%02X(0x%02X)", f.Code, f.Value)
	}
	switch a {
	case ActionWrite:
		return fmt.Sprintf("%s<-0x%02X", p, f.Value)
	case ActionConfigure:
		return fmt.Sprintf("%s:cfg(0x%02X)", p, f.Value)
	default:
		return fmt.Sprintf("%s:read", p)
	}
}

// EncodeWrite builds a write of value to port p.
func EncodeWrite(p Port, value byte) CommandFrame {
	return CommandFrame{Code: mustCode(p, ActionWrite), Value: value}
}

// EncodeConfigure builds a configure frame setting all 8 lines of p to output.
func EncodeConfigure(p Port) CommandFrame {
	return CommandFrame{Code: mustCode(p, ActionConfigure), Value: 0x00}
}

// EncodeRead builds a read request for p. Controller never sends it: the
// card is driven write-only and its replies are not consumed.
func EncodeRead(p Port) CommandFrame {
	return CommandFrame{Code: mustCode(p, ActionRead), Value: 0x00}
}

func mustCode(p Port, a Action) byte {
	code, err := CommandCode(p, a)
	if err != nil {
		panic("usbdo96: " + err.Error())
	}
	return code
}
