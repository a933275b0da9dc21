// Package report renders and publishes the outcome of a command.
package report

import (
	"fmt"
	"io"
	"time"

	"yee/internal/command"
)

type DeviceStatus struct {
	ID      string `json:"id"`
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

// Report is the published form of a command.Result.
type Report struct {
	Command      string         `json:"command"`
	Time         time.Time      `json:"time"`
	AllSucceeded bool           `json:"all_succeeded"`
	Errors       []string       `json:"errors"`
	Devices      []DeviceStatus `json:"devices"`
}

func New(cmd string, res command.Result, at time.Time) Report {
	r := Report{
		Command:      cmd,
		Time:         at.UTC(),
		AllSucceeded: res.AllSucceeded,
		Errors:       res.Errors,
		Devices:      make([]DeviceStatus, 0, len(res.Responses)),
	}
	if r.Errors == nil {
		r.Errors = []string{}
	}
	for _, resp := range res.Responses {
		r.Devices = append(r.Devices, DeviceStatus{ID: resp.DeviceID, Status: resp.Status, Message: resp.Message})
	}
	return r
}

// Failed counts the device calls that did not return 200.
func (r Report) Failed() int {
	n := 0
	for _, d := range r.Devices {
		if d.Status != 200 {
			n++
		}
	}
	return n
}

// Format writes one line per failed call followed by a summary line.
func Format(w io.Writer, r Report) error {
	for _, d := range r.Devices {
		if d.Status == 200 {
			continue
		}
		line := fmt.Sprintf("FAIL %s: %d", d.ID, d.Status)
		if d.Message != "" {
			line += " " + d.Message
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	total := len(r.Devices)
	var summary string
	switch {
	case total == 0:
		summary = fmt.Sprintf("%s: no devices", r.Command)
	case r.AllSucceeded:
		summary = fmt.Sprintf("%s: ok (%d/%d)", r.Command, total, total)
	default:
		summary = fmt.Sprintf("%s: failed (%d/%d ok)", r.Command, total-r.Failed(), total)
	}
	_, err := fmt.Fprintln(w, summary)
	return err
}
