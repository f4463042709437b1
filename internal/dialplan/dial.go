package dialplan

import (
	"strconv"
	"strings"
)

// DialOption is a single character Dial option with an optional
// parameter. A nil Param means the option was written without
// parentheses.
type DialOption struct {
	Code  byte
	Param *string
}

// Dial rings one or more devices:
//
//	device[&device...][,timeout[,options]]
type Dial struct {
	Devices []string
	Timeout *int
	Options []DialOption
}

func (Dial) AppName() string { return "Dial" }

// SetOption adds or replaces an option, keeping first-insertion order.
func (d *Dial) SetOption(code byte, param *string) {
	for i := range d.Options {
		if d.Options[i].Code == code {
			d.Options[i].Param = param
			return
		}
	}
	d.Options = append(d.Options, DialOption{Code: code, Param: param})
}

// Option returns the option's parameter and whether the option is set.
func (d Dial) Option(code byte) (*string, bool) {
	for _, o := range d.Options {
		if o.Code == code {
			return o.Param, true
		}
	}
	return nil, false
}

func (d Dial) Assemble() (string, string) {
	var b strings.Builder
	b.WriteString(strings.Join(d.Devices, "&"))
	if d.Timeout == nil && len(d.Options) == 0 {
		return d.AppName(), b.String()
	}

	b.WriteByte(',')
	if d.Timeout != nil {
		b.WriteString(strconv.Itoa(*d.Timeout))
	}
	if len(d.Options) > 0 {
		b.WriteByte(',')
		for _, o := range d.Options {
			b.WriteByte(o.Code)
			if o.Param != nil {
				b.WriteByte('(')
				b.WriteString(*o.Param)
				b.WriteByte(')')
			}
		}
	}
	return d.AppName(), b.String()
}

func parseDial(appdata string) (Application, error) {
	sections := strings.Split(appdata, ",")

	d := Dial{Devices: strings.Split(sections[0], "&")}
	if len(sections) > 1 && isNumeric(sections[1]) {
		d.Timeout = atoiPtr(sections[1])
	}

	if len(sections) > 2 {
		opts := sections[2]
		for len(opts) > 0 {
			code := opts[0]
			opts = opts[1:]

			var param *string
			if len(opts) > 0 && opts[0] == '(' {
				end := strings.IndexByte(opts, ')')
				if end == -1 {
					return nil, ErrUnterminatedOption
				}
				p := opts[1:end]
				param = &p
				opts = opts[end+1:]
			}
			d.SetOption(code, param)
		}
	}
	return d, nil
}

// DialContacts is the device expression that rings every contact
// registered for a PJSIP endpoint.
func DialContacts(endpoint string) string {
	return "${PJSIP_DIAL_CONTACTS(" + endpoint + ")}"
}
