package main

import (
	"log"

	"github.com/nirjar1012/newChat/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
