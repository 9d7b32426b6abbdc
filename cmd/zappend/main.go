package main

import (
	"log"

	"github.com/nguyengg/zappend/internal/cmd"
)

func main() {
	log.SetFlags(0)

	p, err := cmd.NewParser()
	if err != nil {
		log.Fatal(err)
	}

	_, err = p.Parse()
	exit(err)
}
