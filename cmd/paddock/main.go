package main

import (
	"os"

	"horse.fit/paddock/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
