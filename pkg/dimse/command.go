package dimse

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Command is a parsed DIMSE command set. Command sets are always encoded
// implicit VR little endian regardless of the negotiated transfer syntax.
type Command struct {
	CommandField              uint16
	MessageID                 uint16
	MessageIDBeingRespondedTo uint16
	AffectedSOPClassUID       string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16
}

// HasDataset reports whether a dataset follows this command.
func (c *Command) HasDataset() bool {
	return c.CommandDataSetType != CommandDataSetNull
}

// EncodeCommand serializes a command set, prefixed with the mandatory
// (0000,0000) group length element.
func EncodeCommand(c *Command) []byte {
	var body []byte

	if c.AffectedSOPClassUID != "" {
		uid := []byte(c.AffectedSOPClassUID)
		if len(uid)%2 == 1 {
			uid = append(uid, 0x00)
		}
		body = appendCommandElement(body, 0x0002, uid)
	}
	body = appendCommandUint16(body, 0x0100, c.CommandField)
	if c.MessageID != 0 {
		body = appendCommandUint16(body, 0x0110, c.MessageID)
	}
	if c.MessageIDBeingRespondedTo != 0 {
		body = appendCommandUint16(body, 0x0120, c.MessageIDBeingRespondedTo)
	}
	if c.CommandField == CFindRQ {
		body = appendCommandUint16(body, 0x0700, c.Priority)
	}
	body = appendCommandUint16(body, 0x0800, c.CommandDataSetType)
	if c.CommandField&0x8000 != 0 {
		body = appendCommandUint16(body, 0x0900, c.Status)
	}

	// Group length element first.
	groupLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(groupLen, uint32(len(body)))
	out := appendCommandElement(nil, 0x0000, groupLen)
	return append(out, body...)
}

func appendCommandUint16(b []byte, element uint16, v uint16) []byte {
	val := make([]byte, 2)
	binary.LittleEndian.PutUint16(val, v)
	return appendCommandElement(b, element, val)
}

func appendCommandElement(b []byte, element uint16, value []byte) []byte {
	b = binary.LittleEndian.AppendUint16(b, 0x0000)
	b = binary.LittleEndian.AppendUint16(b, element)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(value)))
	return append(b, value...)
}

// ParseCommand decodes a command set, tolerating unknown elements.
func ParseCommand(data []byte) (*Command, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("command set too short: %d bytes", len(data))
	}

	cmd := &Command{CommandDataSetType: CommandDataSetNull}
	offset := 0

	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		valueStart := offset + 8
		valueEnd := valueStart + int(length)
		if valueEnd > len(data) {
			break
		}

		if group == 0x0000 {
			value := data[valueStart:valueEnd]
			switch element {
			case 0x0002:
				uid := string(value)
				if idx := strings.IndexByte(uid, 0); idx != -1 {
					uid = uid[:idx]
				}
				cmd.AffectedSOPClassUID = strings.TrimSpace(uid)
			case 0x0100:
				if length == 2 {
					cmd.CommandField = binary.LittleEndian.Uint16(value)
				}
			case 0x0110:
				if length == 2 {
					cmd.MessageID = binary.LittleEndian.Uint16(value)
				}
			case 0x0120:
				if length == 2 {
					cmd.MessageIDBeingRespondedTo = binary.LittleEndian.Uint16(value)
				}
			case 0x0700:
				if length == 2 {
					cmd.Priority = binary.LittleEndian.Uint16(value)
				}
			case 0x0800:
				if length == 2 {
					cmd.CommandDataSetType = binary.LittleEndian.Uint16(value)
				}
			case 0x0900:
				if length == 2 {
					cmd.Status = binary.LittleEndian.Uint16(value)
				}
			}
		}

		offset = valueEnd
		if length%2 == 1 {
			offset++
		}
	}

	if cmd.CommandField == 0 {
		return nil, fmt.Errorf("command set missing command field")
	}
	return cmd, nil
}
