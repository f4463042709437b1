package credentials

import (
	"strings"
	"testing"
)

func onlyFrom(s, alphabet string) bool {
	for _, r := range s {
		if !strings.ContainsRune(alphabet, r) {
			return false
		}
	}
	return true
}

func TestExtensionPassword(t *testing.T) {
	pw := ExtensionPassword(20)
	if len(pw) != 20 || !onlyFrom(pw, digits) {
		t.Fatalf("ExtensionPassword(20) = %q", pw)
	}
}

func TestExtensionToken(t *testing.T) {
	tok := ExtensionToken("01990", 8)
	if len(tok) != 13 || !strings.HasPrefix(tok, "01990") || !onlyFrom(tok, digits) {
		t.Fatalf("ExtensionToken() = %q", tok)
	}
}

func TestPeerSecret(t *testing.T) {
	a, b := PeerSecret(), PeerSecret()
	if len(a) != PeerSecretLength || !onlyFrom(a, alphanumeric) {
		t.Fatalf("PeerSecret() = %q", a)
	}
	if a == b {
		t.Fatal("PeerSecret() returned the same value twice")
	}
}

func TestTemporaryExtension(t *testing.T) {
	ext := TemporaryExtension(4)
	if len(ext) != 9 || ext[0] != '9' || !onlyFrom(ext, digits) {
		t.Fatalf("TemporaryExtension(4) = %q", ext)
	}
}
