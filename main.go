// Copyright 2026 The Senda Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/sendasf/senda/cmd"
)

var Version = "development"

func main() {
	cmd.Execute(Version)
}
