package rtc

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestPionLoggerScopesAndLevels(t *testing.T) {
	var buf bytes.Buffer
	root := zerolog.New(&buf)
	l := NewPionLogger(root, zerolog.WarnLevel).NewLogger("ice")

	l.Debugf("gathering %d", 1)
	l.Warnf("candidate %s failed", "host")

	out := buf.String()
	if strings.Contains(out, "gathering") {
		t.Fatalf("debug line leaked below warn level: %s", out)
	}
	for _, want := range []string{`"scope":"ice"`, `"module":"pion"`, "candidate host failed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}
