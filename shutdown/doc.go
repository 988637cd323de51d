// Package shutdown runs callkitd's graceful stop in ordered phases.
//
// Components register a stop function under a phase. Shutdown runs phases
// in ascending order; functions sharing a phase run concurrently and the
// next phase starts only when all of them return. The server uses:
//
//	PhaseHTTP      stop accepting requests and drain handlers
//	PhaseRelays    stop outbound event relays
//	PhaseBus       close the event bus, ending every stream
//	PhaseStorage   drain agents, close the transcript index and flush telemetry
//
// Every registered function runs even when an earlier one fails, unless the
// context expires first. The returned Result lists each outcome.
package shutdown
