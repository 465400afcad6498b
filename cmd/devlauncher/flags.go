package main

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	Root       string
}

// RunFlags holds flags for the interactive launcher.
type RunFlags struct {
	NoAutostart bool
	NoColor     bool
	HTTPAddr    string
}
