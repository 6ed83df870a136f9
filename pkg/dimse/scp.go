package dimse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
)

// Association states.
type State int

const (
	StateIdle State = iota
	StateAssociationRequested
	StateAssociated
	StateProcessingQuery
	StateReleased
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAssociationRequested:
		return "ASSOCIATION_REQUESTED"
	case StateAssociated:
		return "ASSOCIATED"
	case StateProcessingQuery:
		return "PROCESSING_QUERY"
	case StateReleased:
		return "RELEASED"
	case StateAborted:
		return "ABORTED"
	}
	return "UNKNOWN"
}

// FindHandler answers C-FIND queries. Each returned dataset becomes one
// pending response; an error turns into a single failure status.
type FindHandler interface {
	OnFind(ctx context.Context, sopClassUID string, query *Dataset) ([]*Dataset, error)
}

// ServerConfig configures the SCP listener.
type ServerConfig struct {
	AETitle string
	Port    int
}

// Server is the DICOM SCP: one TCP listener, one goroutine per accepted
// association. It serves C-ECHO itself and delegates C-FIND to the handler.
type Server struct {
	aeTitle string
	port    int
	handler FindHandler

	// abstract syntaxes this server accepts during negotiation
	abstractSyntaxes map[string]bool

	// OnAssociation, when set, observes association outcomes
	// ("accepted", "rejected", "aborted").
	OnAssociation func(outcome string)
	// OnFindMatches, when set, observes the match count of each C-FIND.
	OnFindMatches func(n int)

	mu      sync.Mutex
	ln      net.Listener
	started bool
	wg      sync.WaitGroup
}

// NewServer creates an SCP serving Verification, Modality Worklist FIND and
// Study Root FIND.
func NewServer(cfg ServerConfig, handler FindHandler) *Server {
	return &Server{
		aeTitle: cfg.AETitle,
		port:    cfg.Port,
		handler: handler,
		abstractSyntaxes: map[string]bool{
			VerificationSOPClass: true,
			ModalityWorklistFind: true,
			StudyRootQueryFind:   true,
		},
	}
}

// Start binds the listener and begins accepting associations. A second call
// is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to bind scp port %d: %w", s.port, err)
	}
	s.ln = ln
	s.started = true

	log.Info().Int("port", s.port).Str("ae_title", s.aeTitle).Msg("DICOM SCP listening")

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Stop closes the listener and waits for in-flight associations.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	ln := s.ln
	s.started = false
	s.mu.Unlock()

	err := ln.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Warn().Err(err).Msg("SCP accept failed")
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(conn)
		}()
	}
}

// ServeConn runs one association on an already-accepted connection.
func (s *Server) ServeConn(conn net.Conn) {
	assoc := &association{server: s, conn: conn, state: StateIdle}
	assoc.run()
}

// association is the per-connection state machine.
type association struct {
	server *Server
	conn   net.Conn
	state  State

	callingAE string
	contexts  map[byte]*PresentationContext

	// in-flight DIMSE message assembly
	currentCmd  *Command
	cmdCtxID    byte
	commandData []byte
	datasetData []byte
}

func (a *association) observe(outcome string) {
	if a.server.OnAssociation != nil {
		a.server.OnAssociation(outcome)
	}
}

func (a *association) run() {
	defer a.conn.Close()

	if err := a.establish(); err != nil {
		log.Warn().Str("remote", a.conn.RemoteAddr().String()).Err(err).
			Msg("Association establishment failed")
		a.observe("rejected")
		return
	}
	a.observe("accepted")

	for {
		p, err := readPDU(a.conn)
		if err != nil {
			if err != io.EOF {
				log.Warn().Str("calling_ae", a.callingAE).Err(err).Msg("Association read failed")
			}
			return
		}

		switch p.Type {
		case PDUTypePDataTF:
			if err := a.handlePData(p); err != nil {
				log.Warn().Str("calling_ae", a.callingAE).Err(err).Msg("DIMSE handling failed")
				a.abort()
				return
			}
		case PDUTypeReleaseRQ:
			// Always granted; this service has nothing to refuse.
			if err := writePDU(a.conn, PDUTypeReleaseRP, reservedPDUBody); err != nil {
				log.Warn().Err(err).Msg("Failed to send release response")
			}
			a.state = StateReleased
			log.Debug().Str("calling_ae", a.callingAE).Msg("Association released")
			return
		case PDUTypeAbort:
			a.state = StateAborted
			a.observe("aborted")
			log.Debug().Str("calling_ae", a.callingAE).Msg("Association aborted by peer")
			return
		default:
			log.Warn().Uint8("pdu_type", p.Type).Msg("Unhandled PDU type")
		}
	}
}

func (a *association) establish() error {
	p, err := readPDU(a.conn)
	if err != nil {
		return fmt.Errorf("failed to read associate request: %w", err)
	}
	a.state = StateAssociationRequested

	if p.Type != PDUTypeAssociateRQ {
		return fmt.Errorf("expected associate-rq, got pdu 0x%02x", p.Type)
	}

	req, err := parseAssociateRQ(p.Data)
	if err != nil {
		a.reject()
		return err
	}
	a.callingAE = req.CallingAETitle
	a.contexts = negotiateContexts(req.Proposed, a.server.abstractSyntaxes)

	accepted := 0
	for _, ctx := range a.contexts {
		if ctx.Result == ResultAcceptance {
			accepted++
		}
	}
	log.Info().Str("calling_ae", req.CallingAETitle).Str("called_ae", req.CalledAETitle).
		Int("proposed", len(req.Proposed)).Int("accepted", accepted).
		Msg("Association negotiated")

	// Echo back the caller's called AE title; enforcement is left to the
	// network layer.
	req.CalledAETitle = a.server.aeTitle
	if err := writePDU(a.conn, PDUTypeAssociateAC, buildAssociateAC(req, a.contexts)); err != nil {
		return err
	}
	a.state = StateAssociated
	return nil
}

func (a *association) reject() {
	// Result 1 (rejected-permanent), source 1 (user), reason 1 (no reason given).
	if err := writePDU(a.conn, PDUTypeAssociateRJ, []byte{0x00, 0x01, 0x01, 0x01}); err != nil {
		log.Warn().Err(err).Msg("Failed to send associate-rj")
	}
}

func (a *association) abort() {
	a.state = StateAborted
	a.observe("aborted")
	if err := writePDU(a.conn, PDUTypeAbort, []byte{0x00, 0x00, 0x00, 0x00}); err != nil {
		log.Warn().Err(err).Msg("Failed to send abort")
	}
}

func (a *association) handlePData(p *PDU) error {
	pdvs, err := parsePDVs(p.Data)
	if err != nil {
		return err
	}

	for _, v := range pdvs {
		isCommand := v.ctrl&pdvCommand != 0
		isLast := v.ctrl&pdvLastFragment != 0

		if isCommand {
			a.commandData = append(a.commandData, v.data...)
			if !isLast {
				continue
			}
			cmd, err := ParseCommand(a.commandData)
			a.commandData = nil
			if err != nil {
				return err
			}
			a.currentCmd = cmd
			a.cmdCtxID = v.presCtxID
			if !cmd.HasDataset() {
				if err := a.dispatch(); err != nil {
					return err
				}
			}
		} else {
			a.datasetData = append(a.datasetData, v.data...)
			if !isLast {
				continue
			}
			if err := a.dispatch(); err != nil {
				return err
			}
		}
	}
	return nil
}

// dispatch routes one fully assembled DIMSE message.
func (a *association) dispatch() error {
	cmd := a.currentCmd
	dataset := a.datasetData
	a.currentCmd = nil
	a.datasetData = nil

	if cmd == nil {
		return fmt.Errorf("dataset without preceding command")
	}

	switch cmd.CommandField {
	case CEchoRQ:
		return a.handleEcho(cmd)
	case CFindRQ:
		return a.handleFind(cmd, dataset)
	default:
		log.Warn().Uint16("command", cmd.CommandField).Msg("Unsupported DIMSE command")
		return a.sendResponse(cmd, cmd.CommandField|0x8000, StatusFailure, nil)
	}
}

func (a *association) handleEcho(cmd *Command) error {
	log.Debug().Str("calling_ae", a.callingAE).Msg("C-ECHO")
	return a.sendResponse(cmd, CEchoRSP, StatusSuccess, nil)
}

func (a *association) handleFind(cmd *Command, rawQuery []byte) error {
	ctx := a.contexts[a.cmdCtxID]
	if ctx == nil || ctx.Result != ResultAcceptance {
		return fmt.Errorf("c-find on unaccepted presentation context %d", a.cmdCtxID)
	}

	a.state = StateProcessingQuery
	defer func() { a.state = StateAssociated }()

	query, err := ParseDataset(rawQuery, ctx.TransferSyntax)
	if err != nil {
		log.Warn().Str("calling_ae", a.callingAE).Err(err).Msg("Unparseable C-FIND identifier")
		return a.sendResponse(cmd, CFindRSP, StatusFailure, nil)
	}

	matches, err := a.server.handler.OnFind(context.Background(), cmd.AffectedSOPClassUID, query)
	if err != nil {
		log.Error().Str("calling_ae", a.callingAE).Err(err).Msg("C-FIND query failed")
		return a.sendResponse(cmd, CFindRSP, StatusFailure, nil)
	}

	if a.server.OnFindMatches != nil {
		a.server.OnFindMatches(len(matches))
	}
	log.Info().Str("calling_ae", a.callingAE).Str("sop_class", cmd.AffectedSOPClassUID).
		Int("matches", len(matches)).Msg("C-FIND")

	for _, match := range matches {
		payload, err := match.Encode(ctx.TransferSyntax)
		if err != nil {
			log.Error().Err(err).Msg("Failed to encode C-FIND match")
			return a.sendResponse(cmd, CFindRSP, StatusFailure, nil)
		}
		if err := a.sendResponse(cmd, CFindRSP, StatusPending, payload); err != nil {
			return err
		}
	}
	return a.sendResponse(cmd, CFindRSP, StatusSuccess, nil)
}

// sendResponse writes a response command and optional dataset on the message's
// presentation context.
func (a *association) sendResponse(req *Command, commandField, status uint16, dataset []byte) error {
	rsp := &Command{
		CommandField:              commandField,
		MessageIDBeingRespondedTo: req.MessageID,
		AffectedSOPClassUID:       req.AffectedSOPClassUID,
		CommandDataSetType:        CommandDataSetNull,
		Status:                    status,
	}
	if len(dataset) > 0 {
		rsp.CommandDataSetType = 0x0001
	}

	if err := writePData(a.conn, a.cmdCtxID, pdvCommand|pdvLastFragment, EncodeCommand(rsp)); err != nil {
		return err
	}
	if len(dataset) > 0 {
		return writePData(a.conn, a.cmdCtxID, pdvLastFragment, dataset)
	}
	return nil
}
