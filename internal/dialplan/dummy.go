package dialplan

// Dummy holds an application the model has no typed variant for.
type Dummy struct {
	App  string
	Data string
}

func (d Dummy) AppName() string { return d.App }

func (d Dummy) Assemble() (string, string) { return d.App, d.Data }
