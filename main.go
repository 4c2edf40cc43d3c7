package main

import "github.com/example/face-auth/cmd"

func main() {
	cmd.Execute()
}
