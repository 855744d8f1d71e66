package main

import "github.com/OpenTraceLab/xvcd/cmd/xvcd/cmd"

func main() {
	cmd.Execute()
}
