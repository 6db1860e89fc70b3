package main

import "ppm/cmd/ppm/cmd"

func main() {
	cmd.Execute()
}
