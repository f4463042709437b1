package dialplan

import (
	"errors"
	"reflect"
	"testing"
)

func strp(s string) *string { return &s }
func intp(n int) *int       { return &n }

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		app  Application
	}{
		{"dial single device", Dial{Devices: []string{"PJSIP/1000"}}},
		{"dial multiple devices", Dial{Devices: []string{"PJSIP/1000", "PJSIP/1001", DialContacts("1002")}}},
		{"dial timeout only", Dial{Devices: []string{"PJSIP/1000"}, Timeout: intp(30)}},
		{"dial parameterless option", Dial{Devices: []string{"PJSIP/1000"}, Options: []DialOption{{Code: 't'}}}},
		{"dial parameterized option with timeout", Dial{
			Devices: []string{"PJSIP/1000"},
			Timeout: intp(20),
			Options: []DialOption{{Code: 'm', Param: strp("moh_1000")}},
		}},
		{"dial mixed options", Dial{
			Devices: []string{"IAX2/peer/${EXTEN:-4}"},
			Options: []DialOption{{Code: 't'}, {Code: 'm', Param: strp("moh_2000")}, {Code: 'T'}},
		}},
		{"dial empty parameter", Dial{Devices: []string{"a"}, Options: []DialOption{{Code: 'm', Param: strp("")}}}},
		{"answer", Answer{}},
		{"answer delay", Answer{Delay: intp(500)}},
		{"answer delay options", Answer{Delay: intp(500), Options: "i"}},
		{"hangup", Hangup{}},
		{"hangup cause", Hangup{Cause: "USER_BUSY"}},
		{"hangup numeric cause", Hangup{Cause: "17"}},
		{"set local", Set{Name: "FOO", Value: "bar", Inherit: InheritNone}},
		{"set inherit", Set{Name: "FOO", Value: "bar", Inherit: Inherit}},
		{"set inherit children", Set{Name: "FOO", Value: "bar", Inherit: InheritChildren}},
		{"set empty value", Set{Name: "FOO", Value: "", Inherit: InheritNone}},
		{"goto priority", Goto{Priority: "1"}},
		{"goto exten", Goto{Exten: "1000", Priority: "1"}},
		{"goto context", Goto{Context: "pjsip_internal", Exten: "1000", Priority: "hello"}},
		{"confbridge", ConfBridge{Conference: "4000"}},
		{"dummy", Dummy{App: "Playback", Data: "hello-world"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, appdata := tt.app.Assemble()
			got, err := Parse(app, appdata)
			if err != nil {
				t.Fatalf("Parse(%q, %q) error: %v", app, appdata, err)
			}
			if !reflect.DeepEqual(got, tt.app) {
				t.Fatalf("Parse(%q, %q) = %#v, want %#v", app, appdata, got, tt.app)
			}
		})
	}
}

func TestDialAssemble(t *testing.T) {
	tests := []struct {
		name string
		dial Dial
		want string
	}{
		{"devices only", Dial{Devices: []string{"a", "b"}}, "a&b"},
		{"timeout", Dial{Devices: []string{"a"}, Timeout: intp(30)}, "a,30"},
		{"options without timeout", Dial{Devices: []string{"a"}, Options: []DialOption{{Code: 't'}}}, "a,,t"},
		{"all sections", Dial{
			Devices: []string{"a"},
			Timeout: intp(10),
			Options: []DialOption{{Code: 'm', Param: strp("moh_1")}, {Code: 'r'}},
		}, "a,10,m(moh_1)r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, data := tt.dial.Assemble()
			if app != "Dial" {
				t.Errorf("app = %q, want Dial", app)
			}
			if data != tt.want {
				t.Errorf("appdata = %q, want %q", data, tt.want)
			}
		})
	}
}

func TestParseDialNonNumericTimeout(t *testing.T) {
	got, err := Parse("Dial", "PJSIP/1000,abc,t")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	d := got.(Dial)
	if d.Timeout != nil {
		t.Errorf("Timeout = %d, want nil", *d.Timeout)
	}
	if _, ok := d.Option('t'); !ok {
		t.Error("expected option t")
	}
}

func TestParseDialDuplicateOptionKeepsPosition(t *testing.T) {
	got, err := Parse("Dial", "a,,tm(x)t(y)")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	d := got.(Dial)
	if len(d.Options) != 2 {
		t.Fatalf("len(Options) = %d, want 2", len(d.Options))
	}
	if d.Options[0].Code != 't' || d.Options[0].Param == nil || *d.Options[0].Param != "y" {
		t.Errorf("Options[0] = %+v, want t(y)", d.Options[0])
	}
}

func TestParseDialUnterminatedOption(t *testing.T) {
	_, err := Parse("Dial", "PJSIP/1000,,m(moh")
	if !errors.Is(err, ErrUnterminatedOption) {
		t.Fatalf("err = %v, want ErrUnterminatedOption", err)
	}
}

func TestParseUnknownApplication(t *testing.T) {
	got, err := Parse("NonexistentApp", "foo,bar")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	app, data := got.Assemble()
	if app != "NonexistentApp" || data != "foo,bar" {
		t.Fatalf("Assemble() = (%q, %q), want (NonexistentApp, foo,bar)", app, data)
	}
}

func TestParseUnrepresentableFallsBack(t *testing.T) {
	tests := []struct {
		app, data string
	}{
		{"Hangup", "NOT_A_CAUSE"},
		{"Set", "novalue"},
		{"Goto", "a,b,c,d"},
		{"Answer", "soon"},
	}
	for _, tt := range tests {
		got, err := Parse(tt.app, tt.data)
		if err != nil {
			t.Fatalf("Parse(%q, %q) error: %v", tt.app, tt.data, err)
		}
		if _, ok := got.(Dummy); !ok {
			t.Errorf("Parse(%q, %q) = %T, want Dummy", tt.app, tt.data, got)
		}
		app, data := got.Assemble()
		if app != tt.app || data != tt.data {
			t.Errorf("Assemble() = (%q, %q), want (%q, %q)", app, data, tt.app, tt.data)
		}
	}
}

func TestHangupUsesHangupApp(t *testing.T) {
	app, data := Hangup{}.Assemble()
	if app != "Hangup" || data != "" {
		t.Fatalf("Assemble() = (%q, %q)", app, data)
	}
}
