package flavor

import "fmt"

// DefaultCodec is used when neither the extension, the configuration nor the
// flavor name one.
const DefaultCodec = "g722"

var supportedCodecs = map[string]bool{
	"g722":  true,
	"alaw":  true,
	"ulaw":  true,
	"g726":  true,
	"gsm":   true,
	"lpc10": true,
}

// ValidCodec reports whether Asterisk may be configured with codec.
func ValidCodec(codec string) bool { return supportedCodecs[codec] }

// CheckCodec returns an error naming codec when it is not supported.
func CheckCodec(codec string) error {
	if !ValidCodec(codec) {
		return fmt.Errorf("unsupported codec %q", codec)
	}
	return nil
}

// ResolveCodec picks the codec for an extension of phoneType. The order is
// the extension's own override, the configured per-type codec, the flavor's
// per-type codec, the flavor default and finally DefaultCodec.
func ResolveCodec(m Metadata, phoneType, override string, configured map[string]string) string {
	if override != "" {
		return override
	}
	if c := configured[phoneType]; c != "" {
		return c
	}
	if c := m.TypeCodecs[phoneType]; c != "" {
		return c
	}
	if m.Codec != "" {
		return m.Codec
	}
	return DefaultCodec
}
