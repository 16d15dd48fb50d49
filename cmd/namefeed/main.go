package main

import "github.com/nfrund/namefeed/cmd/namefeed/cmd"

func main() {
	cmd.Execute()
}
