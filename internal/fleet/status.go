package fleet

// Status summarises the containers of an instance.
type Status string

const (
	// StatusRunning means every container is running
	StatusRunning Status = "Running"

	// StatusDegraded means some containers are stopped
	StatusDegraded Status = "Degraded"

	// StatusStopped means no container is running
	StatusStopped Status = "Stopped"
)

func determineStatus(running, total int) Status {
	switch {
	case total > 0 && running == total:
		return StatusRunning
	case running > 0:
		return StatusDegraded
	default:
		return StatusStopped
	}
}
