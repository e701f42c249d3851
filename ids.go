package flowgraph

import "go.jetify.com/typeid"

// NewExecutionID returns a new sortable execution id such as
// "exec_01h455vb4pex5vsknk084sn02q".
func NewExecutionID() string {
	return newID("exec")
}

// NewCorrelationID returns a new id for a pending human checkpoint.
func NewCorrelationID() string {
	return newID("chk")
}

func newID(prefix string) string {
	id, err := typeid.WithPrefix(prefix)
	if err != nil {
		panic(err)
	}
	return id.String()
}
