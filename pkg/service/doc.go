// Package service is the process-wide serialization point for PLC
// access. Every externally callable operation — ProductionData,
// PLCTimestamp, Ping, Status — takes the access lock and then runs the
// transport call on a single-worker executor bounded by its deadline,
// so at most one transport call is in flight at any moment and no
// request can wait on the socket forever.
//
// Deadline semantics: when the worker has not finished inside the
// deadline the caller gets ErrTimeout and the worker is abandoned. The
// worker slot stays occupied until the hung call returns, so the next
// caller waits for it no longer than its own deadline and then gets
// ErrTimeout too, rather than starting a second worker; the transport
// reconciles the socket itself via EnsureConnected on the next round.
//
// Failure accounting: any non-success (timeout, disconnected, protocol
// error) increments the consecutive-failure counter; any success resets
// it. At PLC_FETCH_FAILURE_LIMIT the service disconnects the transport
// and sends SIGTERM to its own process, exactly once — recovery then
// belongs to the watchdog.
//
// With USE_PLC disabled the service never touches the transport and
// serves generated snapshots that still honor the line master.
package service
