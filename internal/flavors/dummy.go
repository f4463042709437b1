package flavors

import "github.com/uuru/uuru/internal/flavor"

// Dummy reserves a number without any telephony behind it.
type Dummy struct{}

// NewDummy returns the Dummy flavor.
func NewDummy() *Dummy { return &Dummy{} }

func (Dummy) Metadata() flavor.Metadata {
	return flavor.Metadata{
		Name:               "Dummy",
		PhoneTypes:         []string{"Dummy"},
		IsSpecial:          true,
		PreventSIPCreation: true,
		ExtraFields: flavor.Schema{
			{Name: "displayname", Title: "Display name", Rules: "max=64"},
		},
	}
}
