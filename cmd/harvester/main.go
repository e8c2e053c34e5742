// Package main is the edu-harvester executable.
package main

import "github.com/JakeFAU/edu-harvester/cmd"

func main() {
	cmd.Execute()
}
