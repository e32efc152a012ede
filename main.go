// SPDX-License-Identifier: MPL-2.0

package main

import cmd "avbrepack/cmd/avbrepack"

func main() {
	cmd.Execute()
}
