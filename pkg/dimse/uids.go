// Package dimse implements the subset of the DICOM Upper Layer and DIMSE
// protocols this gateway speaks: enough to serve a Modality Worklist and to
// verify peers with C-ECHO.
package dimse

// PDU types (PS3.8)
const (
	PDUTypeAssociateRQ byte = 0x01
	PDUTypeAssociateAC byte = 0x02
	PDUTypeAssociateRJ byte = 0x03
	PDUTypePDataTF     byte = 0x04
	PDUTypeReleaseRQ   byte = 0x05
	PDUTypeReleaseRP   byte = 0x06
	PDUTypeAbort       byte = 0x07
)

// Association variable item types
const (
	itemApplicationContext  byte = 0x10
	itemPresentationContext byte = 0x20
	itemPresentationCtxAC   byte = 0x21
	itemAbstractSyntax      byte = 0x30
	itemTransferSyntax      byte = 0x40
	itemUserInformation     byte = 0x50
	itemMaxPDULength        byte = 0x51
	itemImplClassUID        byte = 0x52
	itemImplVersionName     byte = 0x55
)

// Presentation context negotiation results
const (
	ResultAcceptance           byte = 0x00
	ResultRejectAbstractSyntax byte = 0x03
	ResultRejectTransferSyntax byte = 0x04
)

// DIMSE command fields
const (
	CFindRQ  uint16 = 0x0020
	CFindRSP uint16 = 0x8020
	CEchoRQ  uint16 = 0x0030
	CEchoRSP uint16 = 0x8030
)

// DIMSE status codes
const (
	StatusSuccess uint16 = 0x0000
	StatusPending uint16 = 0xFF00
	StatusFailure uint16 = 0xC000
)

// CommandDataSetNull marks a command with no dataset attached.
const CommandDataSetNull uint16 = 0x0101

// Well-known UIDs
const (
	ApplicationContextUID  = "1.2.840.10008.3.1.1.1"
	VerificationSOPClass   = "1.2.840.10008.1.1"
	ModalityWorklistFind   = "1.2.840.10008.5.1.4.31"
	StudyRootQueryFind     = "1.2.840.10008.5.1.4.1.2.2.1"
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
)

const (
	implementationClassUID = "1.2.826.0.1.3680043.9.7433.1.1"
	implementationVersion  = "PACS_GATEWAY_1.0"
	defaultMaxPDULength    = 16384
)
