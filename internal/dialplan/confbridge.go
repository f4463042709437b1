package dialplan

// ConfBridge joins the named conference.
type ConfBridge struct {
	Conference string
}

func (ConfBridge) AppName() string { return "ConfBridge" }

func (c ConfBridge) Assemble() (string, string) { return c.AppName(), c.Conference }

func parseConfBridge(appdata string) (Application, error) {
	return ConfBridge{Conference: appdata}, nil
}
