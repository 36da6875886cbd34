package main

import "github.com/crystaldolphin/swbridge/cmd"

func main() {
	cmd.Execute()
}
