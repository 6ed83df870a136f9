package dimse

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// PDU is one Protocol Data Unit.
type PDU struct {
	Type byte
	Data []byte
}

// readPDU reads one complete PDU from the connection.
func readPDU(r io.Reader) (*PDU, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[2:6])
	if length > 16*1024*1024 {
		return nil, fmt.Errorf("pdu length %d exceeds limit", length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read pdu body: %w", err)
	}
	return &PDU{Type: header[0], Data: data}, nil
}

// writePDU writes one PDU.
func writePDU(w io.Writer, pduType byte, data []byte) error {
	header := make([]byte, 6)
	header[0] = pduType
	binary.BigEndian.PutUint32(header[2:6], uint32(len(data)))
	if _, err := w.Write(append(header, data...)); err != nil {
		return fmt.Errorf("failed to write pdu 0x%02x: %w", pduType, err)
	}
	return nil
}

// Message control header bits for P-DATA-TF PDVs.
const (
	pdvCommand      byte = 0x01
	pdvLastFragment byte = 0x02
)

// writePData sends one payload as a single-PDV P-DATA-TF.
func writePData(w io.Writer, presCtxID byte, ctrl byte, payload []byte) error {
	pdv := make([]byte, 0, 6+len(payload))
	pdv = binary.BigEndian.AppendUint32(pdv, uint32(2+len(payload)))
	pdv = append(pdv, presCtxID, ctrl)
	pdv = append(pdv, payload...)
	return writePDU(w, PDUTypePDataTF, pdv)
}

// pdv is one parsed Presentation Data Value.
type pdv struct {
	presCtxID byte
	ctrl      byte
	data      []byte
}

// parsePDVs splits a P-DATA-TF body into its PDVs.
func parsePDVs(data []byte) ([]pdv, error) {
	var out []pdv
	offset := 0
	for offset+6 <= len(data) {
		length := binary.BigEndian.Uint32(data[offset : offset+4])
		if length < 2 || offset+4+int(length) > len(data) {
			return nil, fmt.Errorf("malformed pdv at offset %d", offset)
		}
		out = append(out, pdv{
			presCtxID: data[offset+4],
			ctrl:      data[offset+5],
			data:      data[offset+6 : offset+4+int(length)],
		})
		offset += 4 + int(length)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("p-data-tf carries no pdv")
	}
	return out, nil
}

// ProposedContext is one presentation context offered by the peer.
type ProposedContext struct {
	ID               byte
	AbstractSyntax   string
	TransferSyntaxes []string
}

// PresentationContext is one negotiated presentation context.
type PresentationContext struct {
	ID             byte
	Result         byte
	AbstractSyntax string
	TransferSyntax string
}

// AssociationRequest is a parsed A-ASSOCIATE-RQ.
type AssociationRequest struct {
	CalledAETitle  string
	CallingAETitle string
	MaxPDULength   uint32
	Proposed       []ProposedContext
}

func trimAETitle(raw []byte) string {
	s := string(raw)
	if idx := strings.IndexByte(s, 0); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func normalizeUID(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}

// parseAssociateRQ parses an A-ASSOCIATE-RQ body: fixed fields through byte
// 67, then variable items.
func parseAssociateRQ(data []byte) (*AssociationRequest, error) {
	if len(data) < 68 {
		return nil, fmt.Errorf("associate-rq too short: %d bytes", len(data))
	}

	req := &AssociationRequest{
		CalledAETitle:  trimAETitle(data[4:20]),
		CallingAETitle: trimAETitle(data[20:36]),
		MaxPDULength:   defaultMaxPDULength,
	}

	offset := 68
	for offset+4 <= len(data) {
		itemType := data[offset]
		itemLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		valueStart := offset + 4
		valueEnd := valueStart + int(itemLength)
		if valueEnd > len(data) {
			return nil, fmt.Errorf("associate-rq item 0x%02x exceeds pdu", itemType)
		}
		itemData := data[valueStart:valueEnd]

		switch itemType {
		case itemPresentationContext:
			ctx, err := parseProposedContext(itemData)
			if err != nil {
				return nil, err
			}
			req.Proposed = append(req.Proposed, *ctx)
		case itemUserInformation:
			if maxPDU := parseMaxPDULength(itemData); maxPDU > 0 {
				req.MaxPDULength = maxPDU
			}
		}
		offset = valueEnd
	}

	return req, nil
}

func parseProposedContext(data []byte) (*ProposedContext, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("presentation context item too short")
	}
	ctx := &ProposedContext{ID: data[0]}

	offset := 4
	for offset+4 <= len(data) {
		subType := data[offset]
		subLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		valueStart := offset + 4
		valueEnd := valueStart + int(subLength)
		if valueEnd > len(data) {
			return nil, fmt.Errorf("presentation context %d sub-item exceeds item", ctx.ID)
		}
		value := data[valueStart:valueEnd]

		switch subType {
		case itemAbstractSyntax:
			ctx.AbstractSyntax = normalizeUID(value)
		case itemTransferSyntax:
			ctx.TransferSyntaxes = append(ctx.TransferSyntaxes, normalizeUID(value))
		}
		offset = valueEnd
	}

	if ctx.AbstractSyntax == "" {
		return nil, fmt.Errorf("presentation context %d missing abstract syntax", ctx.ID)
	}
	return ctx, nil
}

func parseMaxPDULength(data []byte) uint32 {
	offset := 0
	for offset+4 <= len(data) {
		subType := data[offset]
		subLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		valueStart := offset + 4
		valueEnd := valueStart + int(subLength)
		if valueEnd > len(data) {
			return 0
		}
		if subType == itemMaxPDULength && subLength == 4 {
			return binary.BigEndian.Uint32(data[valueStart:valueEnd])
		}
		offset = valueEnd
	}
	return 0
}

// negotiateContexts decides each proposed context individually: the abstract
// syntax must be one we serve and at least one proposed transfer syntax must
// be a little-endian syntax we encode. Acceptance is per context, never
// all-or-nothing.
func negotiateContexts(proposed []ProposedContext, abstractSyntaxes map[string]bool) map[byte]*PresentationContext {
	out := make(map[byte]*PresentationContext, len(proposed))
	for _, p := range proposed {
		ctx := &PresentationContext{
			ID:             p.ID,
			AbstractSyntax: p.AbstractSyntax,
			Result:         ResultRejectAbstractSyntax,
		}
		if abstractSyntaxes[p.AbstractSyntax] {
			ctx.Result = ResultRejectTransferSyntax
			for _, ts := range p.TransferSyntaxes {
				if ts == ImplicitVRLittleEndian || ts == ExplicitVRLittleEndian {
					ctx.Result = ResultAcceptance
					ctx.TransferSyntax = ts
					break
				}
			}
		}
		out[p.ID] = ctx
	}
	return out
}

func appendSubItem(b []byte, itemType byte, value []byte) []byte {
	b = append(b, itemType, 0x00)
	b = binary.BigEndian.AppendUint16(b, uint16(len(value)))
	return append(b, value...)
}

func paddedAETitle(ae string) []byte {
	out := []byte(fmt.Sprintf("%-16s", ae))
	return out[:16]
}

func buildUserInformation(maxPDU uint32) []byte {
	var body []byte
	maxPDUValue := make([]byte, 4)
	binary.BigEndian.PutUint32(maxPDUValue, maxPDU)
	body = appendSubItem(body, itemMaxPDULength, maxPDUValue)
	body = appendSubItem(body, itemImplClassUID, []byte(implementationClassUID))
	body = appendSubItem(body, itemImplVersionName, []byte(implementationVersion))
	return appendSubItem(nil, itemUserInformation, body)
}

// buildAssociateAC builds the A-ASSOCIATE-AC body answering req. Every
// proposed context appears with its result; rejected ones carry no transfer
// syntax sub-item.
func buildAssociateAC(req *AssociationRequest, contexts map[byte]*PresentationContext) []byte {
	fixed := make([]byte, 68)
	binary.BigEndian.PutUint16(fixed[0:2], 0x0001)
	copy(fixed[4:20], paddedAETitle(req.CalledAETitle))
	copy(fixed[20:36], paddedAETitle(req.CallingAETitle))

	body := appendSubItem(fixed, itemApplicationContext, []byte(ApplicationContextUID))

	for _, p := range req.Proposed {
		ctx := contexts[p.ID]
		if ctx == nil {
			continue
		}
		item := []byte{ctx.ID, 0x00, ctx.Result, 0x00}
		if ctx.Result == ResultAcceptance {
			item = appendSubItem(item, itemTransferSyntax, []byte(ctx.TransferSyntax))
		}
		body = appendSubItem(body, itemPresentationCtxAC, item)
	}

	return append(body, buildUserInformation(defaultMaxPDULength)...)
}

// buildAssociateRQ builds an A-ASSOCIATE-RQ body for the SCU side.
func buildAssociateRQ(calledAE, callingAE string, proposed []ProposedContext) []byte {
	fixed := make([]byte, 68)
	binary.BigEndian.PutUint16(fixed[0:2], 0x0001)
	copy(fixed[4:20], paddedAETitle(calledAE))
	copy(fixed[20:36], paddedAETitle(callingAE))

	body := appendSubItem(fixed, itemApplicationContext, []byte(ApplicationContextUID))

	for _, p := range proposed {
		item := []byte{p.ID, 0x00, 0x00, 0x00}
		item = appendSubItem(item, itemAbstractSyntax, []byte(p.AbstractSyntax))
		for _, ts := range p.TransferSyntaxes {
			item = appendSubItem(item, itemTransferSyntax, []byte(ts))
		}
		body = appendSubItem(body, itemPresentationContext, item)
	}

	return append(body, buildUserInformation(defaultMaxPDULength)...)
}

// parseAssociateAC extracts the negotiated contexts from an A-ASSOCIATE-AC.
func parseAssociateAC(data []byte) (map[byte]*PresentationContext, error) {
	if len(data) < 68 {
		return nil, fmt.Errorf("associate-ac too short: %d bytes", len(data))
	}

	out := make(map[byte]*PresentationContext)
	offset := 68
	for offset+4 <= len(data) {
		itemType := data[offset]
		itemLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		valueStart := offset + 4
		valueEnd := valueStart + int(itemLength)
		if valueEnd > len(data) {
			return nil, fmt.Errorf("associate-ac item 0x%02x exceeds pdu", itemType)
		}

		if itemType == itemPresentationCtxAC && itemLength >= 4 {
			item := data[valueStart:valueEnd]
			ctx := &PresentationContext{ID: item[0], Result: item[2]}
			subOffset := 4
			for subOffset+4 <= len(item) {
				subType := item[subOffset]
				subLength := binary.BigEndian.Uint16(item[subOffset+2 : subOffset+4])
				subEnd := subOffset + 4 + int(subLength)
				if subEnd > len(item) {
					break
				}
				if subType == itemTransferSyntax {
					ctx.TransferSyntax = normalizeUID(item[subOffset+4 : subEnd])
				}
				subOffset = subEnd
			}
			out[ctx.ID] = ctx
		}
		offset = valueEnd
	}
	return out, nil
}

// Release and abort PDUs carry four reserved bytes as their whole body.
var reservedPDUBody = []byte{0x00, 0x00, 0x00, 0x00}
