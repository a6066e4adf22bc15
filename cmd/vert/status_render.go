package main

type statusKind int

const (
	statusOK statusKind = iota
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

// colorStatus wraps label in the color of kind when colorize is set.
func colorStatus(label string, kind statusKind, colorize bool) string {
	if !colorize {
		return label
	}
	return statusKindColor(kind) + label + ansiReset
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	default:
		return ansiRed
	}
}
