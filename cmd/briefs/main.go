package main

import (
	"os"

	"github.com/kamaleldincom/Briefs-sub000/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
