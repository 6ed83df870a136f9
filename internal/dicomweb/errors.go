package dicomweb

import "errors"

var (
	// ErrUnauthorized is returned when the archive rejects our credentials.
	// Further dialect probing is pointless once this is seen.
	ErrUnauthorized = errors.New("pacs rejected credentials")

	// ErrEndpointNotFound is returned when none of the known QIDO-RS URL
	// dialects produced a usable response.
	ErrEndpointNotFound = errors.New("no working qido endpoint found")

	// ErrTimeout is returned when the archive did not answer in time.
	ErrTimeout = errors.New("pacs query timed out")

	// ErrMalformedResponse is returned when the archive answered 200 but the
	// body was not DICOM JSON.
	ErrMalformedResponse = errors.New("pacs returned malformed response")
)
