package dimse

import (
	"context"
	"fmt"
	"net"
	"time"
)

// AssociationConfig holds the peer identity for an outbound association.
type AssociationConfig struct {
	Host       string
	Port       int
	CallingAET string
	CalledAET  string
	Timeout    time.Duration
}

// Association is an outbound DICOM association used for verification.
type Association struct {
	cfg      AssociationConfig
	conn     net.Conn
	contexts map[byte]*PresentationContext
}

// Connect dials the peer and negotiates an association proposing the
// Verification SOP class.
func Connect(ctx context.Context, cfg AssociationConfig) (*Association, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to peer: %w", err)
	}

	a := &Association{cfg: cfg, conn: conn}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}

	proposed := []ProposedContext{{
		ID:             1,
		AbstractSyntax: VerificationSOPClass,
		TransferSyntaxes: []string{
			ImplicitVRLittleEndian,
			ExplicitVRLittleEndian,
		},
	}}

	rq := buildAssociateRQ(cfg.CalledAET, cfg.CallingAET, proposed)
	if err := writePDU(conn, PDUTypeAssociateRQ, rq); err != nil {
		conn.Close()
		return nil, err
	}

	p, err := readPDU(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read associate response: %w", err)
	}
	switch p.Type {
	case PDUTypeAssociateAC:
	case PDUTypeAssociateRJ:
		conn.Close()
		return nil, fmt.Errorf("association rejected by peer")
	default:
		conn.Close()
		return nil, fmt.Errorf("unexpected pdu 0x%02x during association", p.Type)
	}

	contexts, err := parseAssociateAC(p.Data)
	if err != nil {
		conn.Close()
		return nil, err
	}
	a.contexts = contexts
	return a, nil
}

// Echo sends a C-ECHO and checks the response status.
func (a *Association) Echo(ctx context.Context) error {
	echoCtx := a.contexts[1]
	if echoCtx == nil || echoCtx.Result != ResultAcceptance {
		return fmt.Errorf("peer did not accept verification context")
	}

	cmd := &Command{
		CommandField:        CEchoRQ,
		MessageID:           1,
		AffectedSOPClassUID: VerificationSOPClass,
		CommandDataSetType:  CommandDataSetNull,
	}
	if err := writePData(a.conn, 1, pdvCommand|pdvLastFragment, EncodeCommand(cmd)); err != nil {
		return fmt.Errorf("failed to send c-echo: %w", err)
	}

	p, err := readPDU(a.conn)
	if err != nil {
		return fmt.Errorf("failed to read c-echo response: %w", err)
	}
	if p.Type != PDUTypePDataTF {
		return fmt.Errorf("unexpected pdu 0x%02x awaiting c-echo response", p.Type)
	}

	pdvs, err := parsePDVs(p.Data)
	if err != nil {
		return err
	}
	rsp, err := ParseCommand(pdvs[0].data)
	if err != nil {
		return fmt.Errorf("unparseable c-echo response: %w", err)
	}
	if rsp.CommandField != CEchoRSP {
		return fmt.Errorf("unexpected response command 0x%04x", rsp.CommandField)
	}
	if rsp.Status != StatusSuccess {
		return fmt.Errorf("c-echo failed with status 0x%04x", rsp.Status)
	}
	return nil
}

// Release performs an orderly release and closes the connection.
func (a *Association) Release() error {
	defer a.conn.Close()

	if err := writePDU(a.conn, PDUTypeReleaseRQ, reservedPDUBody); err != nil {
		return err
	}
	p, err := readPDU(a.conn)
	if err != nil {
		return err
	}
	if p.Type != PDUTypeReleaseRP {
		return fmt.Errorf("unexpected pdu 0x%02x awaiting release response", p.Type)
	}
	return nil
}

// Close drops the connection without an orderly release.
func (a *Association) Close() error {
	return a.conn.Close()
}
