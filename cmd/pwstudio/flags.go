package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

type ServeFlags struct {
	Listen   string // overrides server.listen
	BasePath string // overrides server.base_path
}

type RunFlags struct {
	Timeout time.Duration // overrides runner.timeout when non-zero
	JSON    bool
}

type RecordFlags struct {
	Out string // write the script here instead of stdout
}
