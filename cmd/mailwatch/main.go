package main

import (
	_ "time/tzdata"

	"github.com/nhle/mailwatch/internal/app"
)

func main() {
	app.Execute()
}
