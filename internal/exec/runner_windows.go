// SPDX-License-Identifier: GPL-3.0-or-later

//go:build windows

package exec

import (
	"os/exec"
	"syscall"
)

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}

func procAttrNewGroup() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}
