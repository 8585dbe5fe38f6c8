package main

import "github.com/orthotools/tilecut/cmd"

func main() {
	cmd.Execute()
}
