package main

import (
	"log"

	"github.com/tsawler/go-mmsa/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}
