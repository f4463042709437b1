// Package dialplan models Asterisk dialplan applications and the per
// extension dialplan stored in the PBX realtime "extensions" table.
package dialplan

import (
	"errors"
	"strconv"
)

// Application is one dialplan application together with its arguments.
// Assemble returns the app and appdata column values; Parse inverts it.
type Application interface {
	AppName() string
	Assemble() (app, appdata string)
}

// ErrUnterminatedOption is returned when a Dial option parameter has no
// closing parenthesis.
var ErrUnterminatedOption = errors.New("dialplan: missing closing parenthesis in dial options")

type parseFunc func(appdata string) (Application, error)

// variants maps the Asterisk application name to its decoder. Names are
// case sensitive.
var variants = map[string]parseFunc{
	"Answer":     parseAnswer,
	"ConfBridge": parseConfBridge,
	"Dial":       parseDial,
	"Goto":       parseGoto,
	"Hangup":     parseHangup,
	"Set":        parseSet,
}

// Parse decodes a stored app/appdata pair. Unknown applications and
// rows a known variant cannot represent decode to Dummy so every row
// survives a load/store cycle unchanged.
func Parse(app, appdata string) (Application, error) {
	parse, ok := variants[app]
	if !ok {
		return Dummy{App: app, Data: appdata}, nil
	}
	a, err := parse(appdata)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return Dummy{App: app, Data: appdata}, nil
	}
	return a, nil
}

// Known reports whether app has a typed variant.
func Known(app string) bool {
	_, ok := variants[app]
	return ok
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func atoiPtr(s string) *int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}
