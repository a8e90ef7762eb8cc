package main

import "github.com/petvet/biometry/cmd"

func main() {
	cmd.Execute()
}
