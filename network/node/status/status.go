package status

// The status of a node.
type Status byte

const (
	// state is not known, e.g. the supervisor couldn't be queried
	Unknown Status = iota
	// process is verified to be stopped
	Stopped
	// process has been asked to start and isn't yet verified to be running
	Starting
	// process is verified to be running
	Running
	// process has been asked to stop and isn't yet verified to be stopped
	Stopping
	// a transition didn't complete within its retry budget
	Failed
)

func (s Status) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
