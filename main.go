package main

import "github.com/jmehdipour/stripe-gateway/cmd"

func main() {
	cmd.Execute()
}
