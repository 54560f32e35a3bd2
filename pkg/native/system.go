package native

import (
	"fmt"
	"io"
	"sync"
)

// PrintStream represents a java.io.PrintStream.
type PrintStream struct {
	Writer io.Writer
	mu     sync.Mutex
}

// NewPrintStream creates a PrintStream writing to w.
func NewPrintStream(w io.Writer) *PrintStream {
	return &PrintStream{Writer: w}
}

// Print writes s without a trailing newline.
func (ps *PrintStream) Print(s string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	fmt.Fprint(ps.Writer, s)
}

// Println prints a value followed by a newline.
func (ps *PrintStream) Println(args ...string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if len(args) == 0 {
		fmt.Fprintln(ps.Writer)
		return
	}
	fmt.Fprintln(ps.Writer, args[0])
}

func (ps *PrintStream) String() string {
	return "java.io.PrintStream"
}
