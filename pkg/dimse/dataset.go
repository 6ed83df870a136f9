package dimse

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// Item delimitation tags (PS3.5 section 7.5)
var (
	itemTag              = tag.Tag{Group: 0xFFFE, Element: 0xE000}
	itemDelimiterTag     = tag.Tag{Group: 0xFFFE, Element: 0xE00D}
	sequenceDelimiterTag = tag.Tag{Group: 0xFFFE, Element: 0xE0DD}
)

const undefinedLength = 0xFFFFFFFF

// Element is one data element: a text value or, for SQ, nested items.
type Element struct {
	Tag   tag.Tag
	VR    string
	Value string
	Items []*Dataset
}

// Dataset is a collection of data elements keyed by tag.
type Dataset struct {
	elements map[tag.Tag]*Element
}

// NewDataset creates an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{elements: make(map[tag.Tag]*Element)}
}

// SetString sets a text element. Multi-valued content uses backslash joins.
func (d *Dataset) SetString(t tag.Tag, vr, value string) {
	d.elements[t] = &Element{Tag: t, VR: vr, Value: value}
}

// SetSequence sets an SQ element.
func (d *Dataset) SetSequence(t tag.Tag, items []*Dataset) {
	d.elements[t] = &Element{Tag: t, VR: "SQ", Items: items}
}

// GetString returns the trimmed value of a text element, or "".
func (d *Dataset) GetString(t tag.Tag) string {
	if el, ok := d.elements[t]; ok {
		return strings.TrimSpace(el.Value)
	}
	return ""
}

// GetSequence returns the items of an SQ element, or nil.
func (d *Dataset) GetSequence(t tag.Tag) []*Dataset {
	if el, ok := d.elements[t]; ok {
		return el.Items
	}
	return nil
}

// Has reports whether the tag is present.
func (d *Dataset) Has(t tag.Tag) bool {
	_, ok := d.elements[t]
	return ok
}

// Tags returns the element tags in ascending order.
func (d *Dataset) Tags() []tag.Tag {
	tags := make([]tag.Tag, 0, len(d.elements))
	for t := range d.elements {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Group != tags[j].Group {
			return tags[i].Group < tags[j].Group
		}
		return tags[i].Element < tags[j].Element
	})
	return tags
}

// lookupVR returns the dictionary VR for a tag, UN when unknown.
func lookupVR(t tag.Tag) string {
	if info, err := tag.Find(t); err == nil && len(info.VRs) > 0 {
		return info.VRs[0]
	}
	return "UN"
}

func isLongVR(vr string) bool {
	switch vr {
	case "OB", "OD", "OF", "OL", "OV", "OW", "SQ", "UC", "UN", "UR", "UT", "SV", "UV":
		return true
	}
	return false
}

// Encode serializes the dataset in the given transfer syntax. Elements are
// emitted in ascending tag order as the standard requires; sequences use
// defined lengths.
func (d *Dataset) Encode(transferSyntax string) ([]byte, error) {
	explicit, err := isExplicit(transferSyntax)
	if err != nil {
		return nil, err
	}

	var out []byte
	for _, t := range d.Tags() {
		el := d.elements[t]
		encoded, err := encodeElement(el, explicit)
		if err != nil {
			return nil, err
		}
		out = append(out, encoded...)
	}
	return out, nil
}

func isExplicit(transferSyntax string) (bool, error) {
	switch transferSyntax {
	case ExplicitVRLittleEndian:
		return true, nil
	case ImplicitVRLittleEndian:
		return false, nil
	default:
		return false, fmt.Errorf("unsupported transfer syntax %q", transferSyntax)
	}
}

func encodeElement(el *Element, explicit bool) ([]byte, error) {
	var value []byte
	if el.VR == "SQ" {
		for _, item := range el.Items {
			ts := ImplicitVRLittleEndian
			if explicit {
				ts = ExplicitVRLittleEndian
			}
			content, err := item.Encode(ts)
			if err != nil {
				return nil, err
			}
			value = appendTag(value, itemTag)
			value = binary.LittleEndian.AppendUint32(value, uint32(len(content)))
			value = append(value, content...)
		}
	} else {
		value = []byte(el.Value)
		if len(value)%2 == 1 {
			pad := byte(0x20)
			if el.VR == "UI" {
				pad = 0x00
			}
			value = append(value, pad)
		}
	}

	var out []byte
	out = appendTag(out, el.Tag)
	if explicit {
		vr := el.VR
		if len(vr) != 2 {
			vr = lookupVR(el.Tag)
		}
		out = append(out, vr[0], vr[1])
		if isLongVR(vr) {
			out = append(out, 0x00, 0x00)
			out = binary.LittleEndian.AppendUint32(out, uint32(len(value)))
		} else {
			if len(value) > 0xFFFF {
				return nil, fmt.Errorf("element %v value too long for short VR", el.Tag)
			}
			out = binary.LittleEndian.AppendUint16(out, uint16(len(value)))
		}
	} else {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(value)))
	}
	return append(out, value...), nil
}

func appendTag(b []byte, t tag.Tag) []byte {
	b = binary.LittleEndian.AppendUint16(b, t.Group)
	return binary.LittleEndian.AppendUint16(b, t.Element)
}

// ParseDataset decodes a serialized dataset in the given transfer syntax.
// Truncated trailing elements are dropped rather than failing the whole
// parse, since some peers pad identifiers sloppily.
func ParseDataset(data []byte, transferSyntax string) (*Dataset, error) {
	explicit, err := isExplicit(transferSyntax)
	if err != nil {
		return nil, err
	}
	ds, _, err := parseElements(data, explicit, nil)
	return ds, err
}

// parseElements parses elements until the data ends or stopAt is seen,
// returning the dataset and the number of bytes consumed.
func parseElements(data []byte, explicit bool, stopAt *tag.Tag) (*Dataset, int, error) {
	ds := NewDataset()
	offset := 0

	for offset+8 <= len(data) {
		t := tag.Tag{
			Group:   binary.LittleEndian.Uint16(data[offset : offset+2]),
			Element: binary.LittleEndian.Uint16(data[offset+2 : offset+4]),
		}

		if stopAt != nil && t == *stopAt {
			// Delimiter: tag + 4-byte zero length.
			return ds, offset + 8, nil
		}

		var vr string
		var length uint32
		var valueStart int

		if explicit && t.Group != 0xFFFE {
			if offset+8 > len(data) {
				break
			}
			vr = string(data[offset+4 : offset+6])
			if isLongVR(vr) {
				if offset+12 > len(data) {
					break
				}
				length = binary.LittleEndian.Uint32(data[offset+8 : offset+12])
				valueStart = offset + 12
			} else {
				length = uint32(binary.LittleEndian.Uint16(data[offset+6 : offset+8]))
				valueStart = offset + 8
			}
		} else {
			vr = lookupVR(t)
			length = binary.LittleEndian.Uint32(data[offset+4 : offset+8])
			valueStart = offset + 8
		}

		if vr == "SQ" || (length == undefinedLength && t.Group != 0xFFFE) {
			items, consumed, err := parseSequence(data[valueStart:], explicit, length)
			if err != nil {
				return nil, 0, err
			}
			ds.SetSequence(t, items)
			offset = valueStart + consumed
			continue
		}

		if length == undefinedLength || valueStart+int(length) > len(data) {
			break
		}
		ds.SetString(t, vr, trimValue(data[valueStart:valueStart+int(length)]))
		offset = valueStart + int(length)
	}

	return ds, offset, nil
}

// parseSequence parses SQ items, handling both defined and undefined lengths.
func parseSequence(data []byte, explicit bool, length uint32) ([]*Dataset, int, error) {
	var items []*Dataset
	offset := 0
	end := len(data)
	if length != undefinedLength {
		if int(length) > len(data) {
			return nil, 0, fmt.Errorf("sequence length %d exceeds data", length)
		}
		end = int(length)
	}

	for offset+8 <= end {
		t := tag.Tag{
			Group:   binary.LittleEndian.Uint16(data[offset : offset+2]),
			Element: binary.LittleEndian.Uint16(data[offset+2 : offset+4]),
		}
		itemLen := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		offset += 8

		switch t {
		case sequenceDelimiterTag:
			return items, offset, nil
		case itemTag:
			if itemLen == undefinedLength {
				item, consumed, err := parseElements(data[offset:end], explicit, &itemDelimiterTag)
				if err != nil {
					return nil, 0, err
				}
				items = append(items, item)
				offset += consumed
			} else {
				if offset+int(itemLen) > end {
					return nil, 0, fmt.Errorf("sequence item length %d exceeds data", itemLen)
				}
				item, _, err := parseElements(data[offset:offset+int(itemLen)], explicit, nil)
				if err != nil {
					return nil, 0, err
				}
				items = append(items, item)
				offset += int(itemLen)
			}
		default:
			return nil, 0, fmt.Errorf("unexpected tag %v inside sequence", t)
		}
	}

	if length == undefinedLength {
		return nil, 0, fmt.Errorf("unterminated sequence")
	}
	return items, offset, nil
}

func trimValue(raw []byte) string {
	v := string(raw)
	if idx := strings.IndexByte(v, 0); idx != -1 {
		v = v[:idx]
	}
	return strings.TrimSpace(v)
}
