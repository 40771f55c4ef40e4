package main

import "github.com/busybox42/mailfixture/cmd/mailfixture/commands"

func main() {
	commands.Execute()
}
