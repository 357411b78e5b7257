package tolerance

// Source tags where a resolved tolerance came from, for audit metadata.
type Source string

const (
	SourceWorkerOverride  Source = "worker-override"
	SourceLocationDefault Source = "location-default"
	SourceSystemDefault   Source = "system-default"
)

// Window is the grace period applied after scheduled shift end during which
// a worker may still check out without being auto-closed.
type Window struct {
	LateMinutes int
	Source      Source
}
