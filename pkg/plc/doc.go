// Package plc owns the connection to the PLC and the snapshot fetcher
// built on top of it.
//
// Overview
//
//   - Client: the process-wide transport. Connect/Disconnect/Reconnect
//     manage the single TCP socket (3 s dial deadline, OS keepalive
//     60s/10s/3, 5 s per-call I/O deadline). EnsureConnected is the
//     stale-connection probe: a one-word read of an always-valid
//     register that downgrades to a reconnect on any I/O error.
//
//   - Typed reads: ReadWords, ReadBits, ReadDwords. Each read runs
//     through a two-stage pipeline: the debug stub (DEBUG_DUMMY_READ
//     returns zero-filled results without network traffic) and the
//     auto-reconnect wrapper (one reconnect-and-retry on a transport
//     error; protocol errors are surfaced immediately). Dwords are two
//     consecutive words combined little-endian into a signed 32-bit
//     value.
//
//   - Fetcher: translates domain reads (plan, actual, type, flags,
//     alarm text, BCD clock) into one production.Snapshot, substituting
//     a typed default per field on error so a single bad register never
//     loses the observation.
//
// Failure taxonomy (errs.go): ErrDisconnected, ErrTimeout, ErrProtocol,
// ErrConnRefused. ErrConnRefused is distinct because a refused port
// usually means the PLC is booting and deserves the long (15 s)
// reconnect pause.
//
// Concurrency: the Client serializes socket access with its own mutex,
// but the one-caller discipline lives a layer up — pkg/service is the
// only component that calls into here during request handling.
package plc
