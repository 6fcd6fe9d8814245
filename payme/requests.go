package payme

import "encoding/json"

// Typed parameters for each provider method. Optional values are pointers so
// "absent" and "zero" stay distinguishable.

type CheckPerformRequest struct {
	Amount  *int64
	Account json.RawMessage
}

type CreateRequest struct {
	ID      string
	Amount  *int64
	Account json.RawMessage
}

type PerformRequest struct {
	ID string
}

type CancelRequest struct {
	ID     string
	Reason *int
}

type CheckRequest struct {
	ID string
}

type StatementRequest struct {
	From *int64
	To   *int64
}

// Results rendered verbatim into the JSON-RPC "result" member.

type CheckPerformResult struct {
	Allow  bool          `json:"allow"`
	Detail ReceiptDetail `json:"detail"`
}

type CreateResult struct {
	CreateTime  int64  `json:"create_time"`
	Transaction string `json:"transaction"`
	State       State  `json:"state"`
}

// Receiver is a split-payment recipient. The merchant never splits, so
// results always carry a null list.
type Receiver struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
}

type PerformResult struct {
	PerformTime int64      `json:"perform_time"`
	Transaction string     `json:"transaction"`
	State       State      `json:"state"`
	Receivers   []Receiver `json:"receivers"`
}

type CancelResult struct {
	CancelTime  int64      `json:"cancel_time"`
	Transaction string     `json:"transaction"`
	State       State      `json:"state"`
	Receivers   []Receiver `json:"receivers"`
}

type StatementResult struct {
	Transactions []StatementEntry `json:"transactions"`
}
