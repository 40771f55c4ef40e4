package commands

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Colors are disabled automatically when stdout is not a terminal
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	labelColor   = color.New(color.FgCyan)
	warnColor    = color.New(color.FgYellow)
)

func printSuccess(w io.Writer, format string, a ...interface{}) {
	successColor.Fprintf(w, format+"\n", a...)
}

func printError(w io.Writer, format string, a ...interface{}) {
	errorColor.Fprintf(w, format+"\n", a...)
}

func printWarn(w io.Writer, format string, a ...interface{}) {
	warnColor.Fprintf(w, format+"\n", a...)
}

// printField writes "<icon> <label>: <value>" with the label colored
func printField(w io.Writer, icon, label string, value interface{}) {
	fmt.Fprintf(w, "%s %s %v\n", icon, labelColor.Sprint(label+":"), value)
}
