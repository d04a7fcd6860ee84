// Package main is the entry point for the docchat command.
package main

import (
	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/docchat/cmd/docchat/app"
)

func main() {
	// .env 不存在时忽略，环境变量优先
	_ = godotenv.Load()

	app.NewApp().Run()
}
