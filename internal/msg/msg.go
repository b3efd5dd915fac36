// Package msg prints human-facing status lines. Everything goes to
// standard error; standard output carries build directives only.
package msg

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// Output is where messages are written
var Output io.Writer = os.Stderr

func write(label, format string, a ...any) {
	fmt.Fprint(Output, label)
	fmt.Fprint(Output, ": ")
	fmt.Fprintf(Output, format, a...)
	fmt.Fprint(Output, "\n")
}

func Error(format string, a ...any) {
	write(color.HiRedString("error"), format, a...)
}

func Warn(format string, a ...any) {
	write(color.YellowString("warn"), format, a...)
}

func Info(format string, a ...any) {
	write(color.HiGreenString("info"), format, a...)
}

// Detail prints an indented continuation line
func Detail(format string, a ...any) {
	fmt.Fprint(Output, "  ")
	fmt.Fprintf(Output, format, a...)
	fmt.Fprint(Output, "\n")
}
