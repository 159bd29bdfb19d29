// Package ucitest writes scripted UCI engines for tests.
package ucitest

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// Analysis is the reply a well-behaved engine prints for every "go".
const Analysis = `info depth 1 seldepth 1 multipv 1 score cp 35 nodes 20 pv e2e4 e7e5
info depth 12 seldepth 14 multipv 1 score cp 41 nodes 9000 pv e2e4 e7e5 g1f3
info depth 12 seldepth 14 multipv 2 score cp 22 nodes 9000 pv d2d4 d7d5
info depth 12 seldepth 14 multipv 3 score mate -3 nodes 9000 pv g2g4
bestmove e2e4 ponder e7e5`

// Hang makes the engine ignore "go".
const Hang = ""

// Engine writes an executable shell script into t.TempDir() that answers
// the UCI handshake and prints reply (one line per line) for each "go".
func Engine(t testing.TB, reply string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine needs /bin/sh")
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("while IFS= read -r line; do\n")
	b.WriteString("  case \"$line\" in\n")
	b.WriteString("    uci) echo \"id name fake\"; echo \"uciok\" ;;\n")
	b.WriteString("    isready) echo \"readyok\" ;;\n")
	b.WriteString("    go*)\n")
	if reply != "" {
		b.WriteString("      cat <<'REPLY'\n")
		b.WriteString(reply)
		b.WriteString("\nREPLY\n")
	} else {
		b.WriteString("      :\n")
	}
	b.WriteString("      ;;\n")
	b.WriteString("    quit) exit 0 ;;\n")
	b.WriteString("  esac\n")
	b.WriteString("done\n")

	path := filepath.Join(t.TempDir(), "fake-engine.sh")
	if err := os.WriteFile(path, []byte(b.String()), 0o755); err != nil {
		t.Fatalf("write fake engine: %v", err)
	}
	return path
}
