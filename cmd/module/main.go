//go:build linux

// Package main starts a Viam module serving the sunxi board models.
package main

import (
	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"

	"sunxi/sunxiboard"
)

func main() {
	module.ModularMain(
		resource.APIModel{board.API, sunxiboard.ModelOrangePi3LTS},
		resource.APIModel{board.API, sunxiboard.ModelOrangePiZero},
		resource.APIModel{board.API, sunxiboard.ModelCustom},
	)
}
