//go:build windows
// +build windows

package main

import (
	"fmt"

	"github.com/orcastor/vdisk/core"
	"github.com/orcastor/vdisk/vfs"
)

func runMount(cfg *core.Config, base vfs.BaseImage) error {
	return fmt.Errorf("mount is not supported on windows, use -action checkin")
}
