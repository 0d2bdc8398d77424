package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags selects the daemon a client command talks to.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
}

type ServeFlags struct {
	ConfigPath    string
	ProcessesFile string
}

type AddFlags struct {
	APIFlags
	Name      string
	ProcessID string
	BaseURL   string
}

type ProcessFlags struct {
	APIFlags
	ID string
}
