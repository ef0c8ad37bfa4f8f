// rigrun-dispatch - routes prompts to the best available backend.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"os"

	"github.com/jeranaias/rigrun-dispatch/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
