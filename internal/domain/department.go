package domain

// Department is an independent queue with its own numbering and capacity.
// Reference data owned by the department directory; read-only to the queue core.
type Department struct {
	Code     string `json:"code" yaml:"code"`
	Name     string `json:"name" yaml:"name"`
	Capacity int    `json:"capacity" yaml:"capacity"`
}
