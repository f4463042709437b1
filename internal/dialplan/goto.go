package dialplan

import "strings"

// Goto jumps to [[context,]exten,]priority.
type Goto struct {
	Context  string
	Exten    string
	Priority string
}

func (Goto) AppName() string { return "Goto" }

func (g Goto) Assemble() (string, string) {
	var data string
	switch {
	case g.Context != "" && g.Exten != "":
		data = g.Context + "," + g.Exten + ","
	case g.Exten != "":
		data = g.Exten + ","
	}
	return g.AppName(), data + g.Priority
}

func parseGoto(appdata string) (Application, error) {
	args := strings.Split(appdata, ",")
	switch len(args) {
	case 1:
		return Goto{Priority: args[0]}, nil
	case 2:
		return Goto{Exten: args[0], Priority: args[1]}, nil
	case 3:
		return Goto{Context: args[0], Exten: args[1], Priority: args[2]}, nil
	default:
		return nil, nil
	}
}
