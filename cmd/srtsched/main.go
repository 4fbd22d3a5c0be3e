package main

import "github.com/example/srt-scheduler/cmd"

func main() {
	cmd.Execute()
}
