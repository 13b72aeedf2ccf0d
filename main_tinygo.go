//go:build tinygo

package main

import (
	"keel/app"
	"keel/hal"
)

func main() {
	app.Run(hal.New())
}
