package main

import "github.com/panyam/shopauth/cmd/shopctl/cmd"

func main() {
	cmd.Execute()
}
