package thread

// State is the lifecycle state of a Thread.
type State int32

const (
	Created State = iota
	Running
	Suspended
	Terminated
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// Ownership decides who releases a Thread once it has terminated.
type Ownership int

const (
	// AutoDelete threads are released by the library on termination.
	AutoDelete Ownership = iota
	// ManualDelete threads stay usable after termination (for Restart and
	// inspection) until the owner calls Delete.
	ManualDelete
	// External threads were not created by the library; they are adopted on
	// first use and released once the platform reports them gone.
	External
)

func (o Ownership) String() string {
	switch o {
	case AutoDelete:
		return "auto"
	case ManualDelete:
		return "manual"
	case External:
		return "external"
	}
	return "unknown"
}

// Priority is a thread's priority relative to the others in the process.
// It is recorded only; mapping it onto OS scheduling classes is left to the
// platform. The zero value is NormalPriority.
type Priority int

const (
	LowestPriority Priority = iota - 2
	LowPriority
	NormalPriority
	HighPriority
	HighestPriority
)

func (p Priority) String() string {
	switch p {
	case LowestPriority:
		return "lowest"
	case LowPriority:
		return "low"
	case NormalPriority:
		return "normal"
	case HighPriority:
		return "high"
	case HighestPriority:
		return "highest"
	}
	return "unknown"
}
