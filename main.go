package main

import "github.com/kozaktomas/photo-jobs/cmd"

func main() {
	cmd.Execute()
}
