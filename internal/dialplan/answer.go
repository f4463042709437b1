package dialplan

import (
	"strconv"
	"strings"
)

// Answer answers the channel, optionally after a delay in milliseconds.
type Answer struct {
	Delay   *int
	Options string
}

func (Answer) AppName() string { return "Answer" }

func (a Answer) Assemble() (string, string) {
	data := ""
	if a.Delay != nil {
		data = strconv.Itoa(*a.Delay)
	}
	if a.Options != "" {
		data += "," + a.Options
	}
	return a.AppName(), data
}

func parseAnswer(appdata string) (Application, error) {
	delay, opts, _ := strings.Cut(appdata, ",")
	a := Answer{Options: opts}
	if delay != "" {
		if !isNumeric(delay) {
			return nil, nil
		}
		a.Delay = atoiPtr(delay)
	}
	return a, nil
}
