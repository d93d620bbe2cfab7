package schema

// Trap flags. Unprivileged code crosses the boundary with a workflow
// identifier and an OR of these; the kernel side acts on each set bit.
const (
	// TrapSubmit drains the caller's pending events from the outbound ring
	// into routing.
	TrapSubmit uint32 = 1 << 0
	// TrapWait runs machine passes until the caller has nothing in flight.
	TrapWait uint32 = 1 << 1
	// TrapPoll runs a single non-blocking machine pass.
	TrapPoll uint32 = 1 << 2
	// TrapYield cedes the caller's turn for one machine pass.
	TrapYield uint32 = 1 << 3
	// TrapExit marks the workflow finished; later submissions are rejected.
	TrapExit uint32 = 1 << 4
)
