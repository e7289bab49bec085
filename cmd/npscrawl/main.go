// Package main is the entry point for the npscrawl binary.
package main

import "github.com/nps-senti/crawler/cmd"

func main() {
	cmd.Execute()
}
