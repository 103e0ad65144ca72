package main

import "github.com/dayuer/msgbridge-go/cmd"

func main() {
	cmd.Execute()
}
