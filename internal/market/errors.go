package market

import "errors"

// Failure taxonomy shared by feeds and transports. A TransportFailure or
// ProtocolFailure aborts only the current cycle for that market; a
// SequenceGap forces a resynchronization. None of these are fatal to the
// process.
var (
	// ErrTransport wraps network-level failures (dial, timeout, closed stream).
	ErrTransport = errors.New("transport failure")

	// ErrProtocol wraps malformed payloads and exchange-reported failure flags.
	ErrProtocol = errors.New("protocol failure")

	// ErrSequenceGap is returned when a streaming book's pending queue has
	// exceeded its bounded size or age and a snapshot refresh is required.
	ErrSequenceGap = errors.New("sequence gap: resync required")
)
