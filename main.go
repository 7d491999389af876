package main

import "github.com/caedis/gamelauncher/cmd"

func main() {
	cmd.Execute()
}
