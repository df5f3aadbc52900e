// Package main is the entry point for the karva CLI.
package main

import "github.com/MatthewMckee4/karva/cmd"

func main() {
	cmd.Execute()
}
