//go:build darwin
// +build darwin

package deps

import "os/exec"

func configureSysProcAttr(cmd *exec.Cmd) {}
