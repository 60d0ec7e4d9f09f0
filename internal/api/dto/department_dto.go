package dto

// DepartmentSummaryResponse is one row of the department dashboard.
type DepartmentSummaryResponse struct {
	Code               string  `json:"code"`
	Name               string  `json:"name"`
	Capacity           int     `json:"capacity"`
	Live               int     `json:"live"`
	Pending            int     `json:"pending"`
	Waiting            int     `json:"waiting"`
	NowServing         *string `json:"now_serving"`
	NowServingTicketID *string `json:"now_serving_ticket_id"`
	NextNumber         int64   `json:"next_number"`
	NextDisplayNumber  string  `json:"next_display_number"`
}

// NextNumberResponse previews a department's next ticket number.
type NextNumberResponse struct {
	DepartmentCode string `json:"department_code"`
	SequenceNumber int64  `json:"sequence_number"`
	DisplayNumber  string `json:"display_number"`
}
