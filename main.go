package main

import "github.com/thunderstriders/lapcounter/cmd"

func main() {
	cmd.Execute()
}
