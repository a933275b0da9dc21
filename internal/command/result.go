package command

import "yee/internal/lights"

// Result is the aggregate outcome of one dispatch.
type Result struct {
	AllSucceeded bool              `json:"all_succeeded"`
	Errors       []string          `json:"errors"`
	Responses    []lights.Response `json:"responses"`
}

// Summarize folds responses into a Result. AllSucceeded holds iff every
// status is 200; Errors keeps the non-empty messages of the others in order.
func Summarize(responses []lights.Response) Result {
	res := Result{AllSucceeded: true, Errors: []string{}, Responses: responses}
	for _, r := range responses {
		if r.OK() {
			continue
		}
		res.AllSucceeded = false
		if r.Message != "" {
			res.Errors = append(res.Errors, r.Message)
		}
	}
	return res
}

// Failed returns the non-success responses in order.
func (r Result) Failed() []lights.Response {
	var out []lights.Response
	for _, resp := range r.Responses {
		if !resp.OK() {
			out = append(out, resp)
		}
	}
	return out
}
