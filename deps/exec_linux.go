//go:build linux
// +build linux

package deps

import "os/exec"

func configureSysProcAttr(cmd *exec.Cmd) {}
