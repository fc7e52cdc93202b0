package main

import (
	"log"

	"github.com/sasha-gershtein/Sodia/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
