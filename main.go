package main

import "github.com/usagegate/usagegate/cmd"

func main() {
	cmd.Execute()
}
