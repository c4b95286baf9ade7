package main

import "github/chapool/go-autoyield/cmd"

func main() {
	cmd.Execute()
}
