package domain

// Phase groups tasks that became ready at the same point of the DAG's
// topological sweep. Phase N+1 only activates once every Task in
// phase N has reached a terminal status.
type Phase struct {
	Number  int
	TaskIDs []string
	Active  bool
	Done    bool
}
