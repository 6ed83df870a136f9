package dimse

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/suyashkumar/dicom/pkg/tag"
)

type stubFindHandler struct {
	sopClass string
	query    *Dataset
	matches  []*Dataset
	err      error
}

func (h *stubFindHandler) OnFind(_ context.Context, sopClassUID string, query *Dataset) ([]*Dataset, error) {
	h.sopClass = sopClassUID
	h.query = query
	return h.matches, h.err
}

// startPipeAssociation runs ServeConn on one end of a pipe and negotiates an
// association from the other, returning the client conn and its contexts.
func startPipeAssociation(t *testing.T, srv *Server, proposed []ProposedContext) (net.Conn, map[byte]*PresentationContext) {
	t.Helper()

	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		srv.ServeConn(server)
		close(done)
	}()
	t.Cleanup(func() {
		client.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("association goroutine did not exit")
		}
	})
	_ = client.SetDeadline(time.Now().Add(5 * time.Second))

	rq := buildAssociateRQ("MWL_SCP", "TEST_SCU", proposed)
	if err := writePDU(client, PDUTypeAssociateRQ, rq); err != nil {
		t.Fatalf("write associate-rq: %v", err)
	}
	p, err := readPDU(client)
	if err != nil {
		t.Fatalf("read associate response: %v", err)
	}
	if p.Type != PDUTypeAssociateAC {
		t.Fatalf("response pdu = 0x%02x, want associate-ac", p.Type)
	}
	contexts, err := parseAssociateAC(p.Data)
	if err != nil {
		t.Fatalf("parse associate-ac: %v", err)
	}
	return client, contexts
}

// readResponse reads one DIMSE response, including its dataset if present.
func readResponse(t *testing.T, conn net.Conn, transferSyntax string) (*Command, *Dataset) {
	t.Helper()

	p, err := readPDU(conn)
	if err != nil {
		t.Fatalf("read response pdu: %v", err)
	}
	if p.Type != PDUTypePDataTF {
		t.Fatalf("response pdu = 0x%02x, want p-data-tf", p.Type)
	}
	pdvs, err := parsePDVs(p.Data)
	if err != nil {
		t.Fatalf("parse pdvs: %v", err)
	}
	cmd, err := ParseCommand(pdvs[0].data)
	if err != nil {
		t.Fatalf("parse response command: %v", err)
	}
	if !cmd.HasDataset() {
		return cmd, nil
	}

	p, err = readPDU(conn)
	if err != nil {
		t.Fatalf("read dataset pdu: %v", err)
	}
	pdvs, err = parsePDVs(p.Data)
	if err != nil {
		t.Fatalf("parse dataset pdvs: %v", err)
	}
	ds, err := ParseDataset(pdvs[0].data, transferSyntax)
	if err != nil {
		t.Fatalf("parse response dataset: %v", err)
	}
	return cmd, ds
}

func release(t *testing.T, conn net.Conn) {
	t.Helper()
	if err := writePDU(conn, PDUTypeReleaseRQ, reservedPDUBody); err != nil {
		t.Fatalf("write release-rq: %v", err)
	}
	p, err := readPDU(conn)
	if err != nil {
		t.Fatalf("read release response: %v", err)
	}
	if p.Type != PDUTypeReleaseRP {
		t.Fatalf("release response pdu = 0x%02x", p.Type)
	}
}

func verificationContext() []ProposedContext {
	return []ProposedContext{{
		ID:               1,
		AbstractSyntax:   VerificationSOPClass,
		TransferSyntaxes: []string{ImplicitVRLittleEndian},
	}}
}

func TestServerEcho(t *testing.T) {
	var outcomes []string
	srv := NewServer(ServerConfig{AETitle: "MWL_SCP"}, &stubFindHandler{})
	srv.OnAssociation = func(outcome string) { outcomes = append(outcomes, outcome) }

	conn, contexts := startPipeAssociation(t, srv, verificationContext())
	if contexts[1].Result != ResultAcceptance {
		t.Fatalf("verification context result = 0x%02x", contexts[1].Result)
	}

	echo := &Command{
		CommandField:        CEchoRQ,
		MessageID:           5,
		AffectedSOPClassUID: VerificationSOPClass,
		CommandDataSetType:  CommandDataSetNull,
	}
	if err := writePData(conn, 1, pdvCommand|pdvLastFragment, EncodeCommand(echo)); err != nil {
		t.Fatalf("write c-echo: %v", err)
	}

	rsp, _ := readResponse(t, conn, ImplicitVRLittleEndian)
	if rsp.CommandField != CEchoRSP {
		t.Errorf("response command = 0x%04x, want c-echo-rsp", rsp.CommandField)
	}
	if rsp.Status != StatusSuccess {
		t.Errorf("status = 0x%04x, want success", rsp.Status)
	}
	if rsp.MessageIDBeingRespondedTo != 5 {
		t.Errorf("responded-to id = %d, want 5", rsp.MessageIDBeingRespondedTo)
	}

	release(t, conn)
	if len(outcomes) == 0 || outcomes[0] != "accepted" {
		t.Errorf("association outcomes = %v, want accepted first", outcomes)
	}
}

func worklistContext() []ProposedContext {
	return []ProposedContext{{
		ID:               1,
		AbstractSyntax:   ModalityWorklistFind,
		TransferSyntaxes: []string{ExplicitVRLittleEndian},
	}}
}

func findRequest() *Command {
	return &Command{
		CommandField:        CFindRQ,
		MessageID:           2,
		AffectedSOPClassUID: ModalityWorklistFind,
		CommandDataSetType:  0x0000,
	}
}

func TestServerFindPendingThenSuccess(t *testing.T) {
	first := NewDataset()
	first.SetString(tag.Tag{Group: 0x0008, Element: 0x0050}, "SH", "ACC000001")
	second := NewDataset()
	second.SetString(tag.Tag{Group: 0x0008, Element: 0x0050}, "SH", "ACC000002")

	handler := &stubFindHandler{matches: []*Dataset{first, second}}
	var matchCounts []int
	srv := NewServer(ServerConfig{AETitle: "MWL_SCP"}, handler)
	srv.OnFindMatches = func(n int) { matchCounts = append(matchCounts, n) }

	conn, contexts := startPipeAssociation(t, srv, worklistContext())
	if contexts[1].Result != ResultAcceptance {
		t.Fatalf("worklist context result = 0x%02x", contexts[1].Result)
	}

	query := NewDataset()
	query.SetString(tag.Tag{Group: 0x0008, Element: 0x0060}, "CS", "CT")
	identifier, err := query.Encode(ExplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("encode query: %v", err)
	}

	if err := writePData(conn, 1, pdvCommand|pdvLastFragment, EncodeCommand(findRequest())); err != nil {
		t.Fatalf("write c-find command: %v", err)
	}
	if err := writePData(conn, 1, pdvLastFragment, identifier); err != nil {
		t.Fatalf("write c-find identifier: %v", err)
	}

	var accessions []string
	for {
		rsp, ds := readResponse(t, conn, ExplicitVRLittleEndian)
		if rsp.CommandField != CFindRSP {
			t.Fatalf("response command = 0x%04x", rsp.CommandField)
		}
		if rsp.Status == StatusSuccess {
			if ds != nil {
				t.Error("final response should carry no dataset")
			}
			break
		}
		if rsp.Status != StatusPending {
			t.Fatalf("status = 0x%04x, want pending", rsp.Status)
		}
		if ds == nil {
			t.Fatal("pending response missing dataset")
		}
		accessions = append(accessions, ds.GetString(tag.Tag{Group: 0x0008, Element: 0x0050}))
	}

	if len(accessions) != 2 || accessions[0] != "ACC000001" || accessions[1] != "ACC000002" {
		t.Errorf("accessions = %v", accessions)
	}
	if handler.sopClass != ModalityWorklistFind {
		t.Errorf("handler sop class = %q", handler.sopClass)
	}
	if handler.query == nil || handler.query.GetString(tag.Tag{Group: 0x0008, Element: 0x0060}) != "CT" {
		t.Error("handler did not receive the query identifier")
	}
	if len(matchCounts) != 1 || matchCounts[0] != 2 {
		t.Errorf("match counts = %v, want [2]", matchCounts)
	}

	release(t, conn)
}

func TestServerFindHandlerError(t *testing.T) {
	handler := &stubFindHandler{err: errors.New("backend unavailable")}
	srv := NewServer(ServerConfig{AETitle: "MWL_SCP"}, handler)

	conn, _ := startPipeAssociation(t, srv, worklistContext())

	identifier, err := NewDataset().Encode(ExplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("encode query: %v", err)
	}
	if err := writePData(conn, 1, pdvCommand|pdvLastFragment, EncodeCommand(findRequest())); err != nil {
		t.Fatalf("write c-find command: %v", err)
	}
	if err := writePData(conn, 1, pdvLastFragment, identifier); err != nil {
		t.Fatalf("write c-find identifier: %v", err)
	}

	rsp, _ := readResponse(t, conn, ExplicitVRLittleEndian)
	if rsp.Status != StatusFailure {
		t.Errorf("status = 0x%04x, want failure", rsp.Status)
	}

	release(t, conn)
}

func TestServerFindNoMatches(t *testing.T) {
	handler := &stubFindHandler{}
	var matchCounts []int
	srv := NewServer(ServerConfig{AETitle: "MWL_SCP"}, handler)
	srv.OnFindMatches = func(n int) { matchCounts = append(matchCounts, n) }

	conn, _ := startPipeAssociation(t, srv, worklistContext())

	identifier, err := NewDataset().Encode(ExplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("encode query: %v", err)
	}
	if err := writePData(conn, 1, pdvCommand|pdvLastFragment, EncodeCommand(findRequest())); err != nil {
		t.Fatalf("write c-find command: %v", err)
	}
	if err := writePData(conn, 1, pdvLastFragment, identifier); err != nil {
		t.Fatalf("write c-find identifier: %v", err)
	}

	rsp, ds := readResponse(t, conn, ExplicitVRLittleEndian)
	if rsp.CommandField != CFindRSP {
		t.Fatalf("response command = 0x%04x, want c-find-rsp", rsp.CommandField)
	}
	if rsp.Status != StatusSuccess {
		t.Errorf("status = 0x%04x, want success with no pending responses", rsp.Status)
	}
	if ds != nil {
		t.Error("empty result should carry no dataset")
	}
	if len(matchCounts) != 1 || matchCounts[0] != 0 {
		t.Errorf("match counts = %v, want [0]", matchCounts)
	}

	release(t, conn)
}

func TestServerStartIsIdempotent(t *testing.T) {
	srv := NewServer(ServerConfig{AETitle: "MWL_SCP", Port: 0}, &stubFindHandler{})

	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestServerRejectsUnknownAbstractSyntax(t *testing.T) {
	srv := NewServer(ServerConfig{AETitle: "MWL_SCP"}, &stubFindHandler{})

	proposed := []ProposedContext{{
		ID:               1,
		AbstractSyntax:   "1.2.840.10008.5.1.4.1.1.2",
		TransferSyntaxes: []string{ImplicitVRLittleEndian},
	}}
	conn, contexts := startPipeAssociation(t, srv, proposed)

	if contexts[1].Result != ResultRejectAbstractSyntax {
		t.Errorf("context result = 0x%02x, want abstract syntax rejection", contexts[1].Result)
	}
	release(t, conn)
}
