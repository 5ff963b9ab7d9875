// Package main provides the entry point for the benchmark-engine CLI.
package main

func main() {
	Execute()
}
